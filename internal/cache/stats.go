package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"
)

// EntryStats is the per-paper slice of Stats.
type EntryStats struct {
	ArxivID       string    `json:"arxiv_id"`
	Title         string    `json:"title"`
	AccessCount   int64     `json:"access_count"`
	LastAccessed  time.Time `json:"last_accessed"`
	HasRepo       bool      `json:"has_repo"`
	HasConceptMap bool      `json:"has_concept_map"`
	HasCollection bool      `json:"has_collection"`
}

// Stats summarizes the cache contents and footprint.
type Stats struct {
	Entries       int          `json:"entries"`
	TotalAccesses int64        `json:"total_accesses"`
	DiskBytes     int64        `json:"disk_bytes"`
	Papers        []EntryStats `json:"papers"`
}

// Stats returns cache-wide counters plus a summary line per cached paper.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT arxiv_id, title, access_count, last_accessed, repo_path, concept_map_path, collection
		 FROM papers ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{Papers: []EntryStats{}}
	for rows.Next() {
		var es EntryStats
		var repoPath, conceptMap, collection sql.NullString
		if err := rows.Scan(&es.ArxivID, &es.Title, &es.AccessCount, &es.LastAccessed,
			&repoPath, &conceptMap, &collection); err != nil {
			return nil, err
		}
		es.HasRepo = repoPath.String != ""
		es.HasConceptMap = conceptMap.String != ""
		es.HasCollection = collection.String != ""
		stats.Entries++
		stats.TotalAccesses += es.AccessCount
		stats.Papers = append(stats.Papers, es)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.DiskBytes = diskUsageBytes(s.dbPath, s.conceptMapsDir)
	return stats, nil
}

// diskUsageBytes sums the sizes of the given files and directory trees.
// Unreadable paths contribute zero.
func diskUsageBytes(paths ...string) int64 {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		_ = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
			return nil
		})
	}
	return total
}

// Package cache provides the persistent paper cache backed by SQLite.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Entry is one cached paper: metadata plus the artifacts of a completed
// initialization. Entries exist only for fully initialized papers.
type Entry struct {
	ArxivID        string    `json:"arxiv_id"`
	Title          string    `json:"title"`
	Authors        []string  `json:"authors"`
	Summary        string    `json:"summary"`
	EntryURL       string    `json:"entry_url"`
	PDFURL         string    `json:"pdf_url"`
	PDFPath        string    `json:"pdf_path"`
	RepoURL        string    `json:"repo_url"`
	RepoPath       string    `json:"repo_path"`
	Collection     string    `json:"collection"`
	IndexedAt      time.Time `json:"indexed_at,omitempty"`
	IndexedFiles   int       `json:"indexed_files"`
	ConceptMapPath string    `json:"concept_map_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
	AccessCount    int64     `json:"access_count"`
}

// Patch updates a subset of an entry's fields; nil fields are left unchanged.
type Patch struct {
	PDFPath        *string
	RepoURL        *string
	RepoPath       *string
	Collection     *string
	IndexedAt      *time.Time
	IndexedFiles   *int
	ConceptMapPath *string
}

// Store is the SQLite-backed paper cache. Concept maps are kept out-of-line
// as JSON files under conceptMapsDir, keyed by normalized ID.
type Store struct {
	db             *sql.DB
	dbPath         string
	conceptMapsDir string
	logger         *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for recovery and maintenance events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Open opens or creates the cache database at dbPath and ensures
// conceptMapsDir exists. An unreadable database is moved aside and replaced
// with a fresh one rather than failing startup.
func Open(dbPath, conceptMapsDir string, opts ...StoreOption) (*Store, error) {
	s := &Store{dbPath: dbPath, conceptMapsDir: conceptMapsDir}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if err := os.MkdirAll(conceptMapsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create concept maps directory: %w", err)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
		if s.logger != nil {
			s.logger.Warn("cache database unreadable, starting fresh",
				zap.String("path", dbPath), zap.String("moved_to", aside), zap.Error(err))
		}
		if renameErr := os.Rename(dbPath, aside); renameErr != nil {
			return nil, fmt.Errorf("failed to move corrupt cache aside: %w", renameErr)
		}
		db, err = openDatabase(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate cache database: %w", err)
		}
	}
	s.db = db
	return s, nil
}

func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		arxiv_id TEXT PRIMARY KEY,
		title TEXT,
		authors TEXT,
		summary TEXT,
		entry_url TEXT,
		pdf_url TEXT,
		pdf_path TEXT,
		repo_url TEXT,
		repo_path TEXT,
		collection TEXT,
		indexed_at TIMESTAMP,
		indexed_files INTEGER NOT NULL DEFAULT 0,
		concept_map_path TEXT,
		created_at TIMESTAMP NOT NULL,
		last_accessed TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_papers_last_accessed ON papers(last_accessed);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the entry for id (normalized). A hit bumps the access count and
// last-accessed stamp before returning. Misses return ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	id = NormalizeID(id)
	entry, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.AccessCount++
	entry.LastAccessed = time.Now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE papers SET access_count = ?, last_accessed = ? WHERE arxiv_id = ?`,
		entry.AccessCount, entry.LastAccessed, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp access: %w", err)
	}
	return entry, nil
}

func (s *Store) get(ctx context.Context, id string) (*Entry, error) {
	var (
		e           Entry
		authorsJSON string
		indexedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT arxiv_id, title, authors, summary, entry_url, pdf_url, pdf_path,
		        repo_url, repo_path, collection, indexed_at, indexed_files,
		        concept_map_path, created_at, last_accessed, access_count
		 FROM papers WHERE arxiv_id = ?`, id,
	).Scan(&e.ArxivID, &e.Title, &authorsJSON, &e.Summary, &e.EntryURL, &e.PDFURL,
		&e.PDFPath, &e.RepoURL, &e.RepoPath, &e.Collection, &indexedAt,
		&e.IndexedFiles, &e.ConceptMapPath, &e.CreatedAt, &e.LastAccessed, &e.AccessCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if indexedAt.Valid {
		e.IndexedAt = indexedAt.Time
	}
	if authorsJSON != "" {
		if err := json.Unmarshal([]byte(authorsJSON), &e.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	return &e, nil
}

// Set upserts the entry under its normalized ID. An existing row keeps its
// created_at; access stamps are refreshed either way.
func (s *Store) Set(ctx context.Context, entry *Entry) error {
	id := NormalizeID(entry.ArxivID)
	authorsJSON, err := json.Marshal(entry.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	now := time.Now()
	createdAt := now
	accessCount := entry.AccessCount
	if existing, err := s.get(ctx, id); err == nil {
		createdAt = existing.CreatedAt
		accessCount = existing.AccessCount
	}
	accessCount++

	var indexedAt interface{}
	if !entry.IndexedAt.IsZero() {
		indexedAt = entry.IndexedAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO papers (arxiv_id, title, authors, summary, entry_url, pdf_url,
		                     pdf_path, repo_url, repo_path, collection, indexed_at,
		                     indexed_files, concept_map_path, created_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(arxiv_id) DO UPDATE SET
		   title = excluded.title,
		   authors = excluded.authors,
		   summary = excluded.summary,
		   entry_url = excluded.entry_url,
		   pdf_url = excluded.pdf_url,
		   pdf_path = excluded.pdf_path,
		   repo_url = excluded.repo_url,
		   repo_path = excluded.repo_path,
		   collection = excluded.collection,
		   indexed_at = excluded.indexed_at,
		   indexed_files = excluded.indexed_files,
		   concept_map_path = excluded.concept_map_path,
		   last_accessed = excluded.last_accessed,
		   access_count = excluded.access_count`,
		id, entry.Title, string(authorsJSON), entry.Summary, entry.EntryURL,
		entry.PDFURL, entry.PDFPath, entry.RepoURL, entry.RepoPath,
		entry.Collection, indexedAt, entry.IndexedFiles, entry.ConceptMapPath,
		createdAt, now, accessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Update applies the non-nil fields of patch to an existing entry. Returns
// false (and no error) when the entry does not exist.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (bool, error) {
	id = NormalizeID(id)
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.PDFPath != nil {
		add("pdf_path", *patch.PDFPath)
	}
	if patch.RepoURL != nil {
		add("repo_url", *patch.RepoURL)
	}
	if patch.RepoPath != nil {
		add("repo_path", *patch.RepoPath)
	}
	if patch.Collection != nil {
		add("collection", *patch.Collection)
	}
	if patch.IndexedAt != nil {
		add("indexed_at", *patch.IndexedAt)
	}
	if patch.IndexedFiles != nil {
		add("indexed_files", *patch.IndexedFiles)
	}
	if patch.ConceptMapPath != nil {
		add("concept_map_path", *patch.ConceptMapPath)
	}
	if len(sets) == 0 {
		return s.Exists(ctx, id)
	}
	add("last_accessed", time.Now())
	args = append(args, id)

	query := "UPDATE papers SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE arxiv_id = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update entry: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Delete removes the entry and its concept map file. Returns false when no
// entry existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	id = NormalizeID(id)
	result, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE arxiv_id = ?`, id)
	if err != nil {
		return false, err
	}
	_ = s.DeleteConceptMap(id)
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Exists reports whether an entry is cached for id.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	id = NormalizeID(id)
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM papers WHERE arxiv_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearAll removes every entry and every concept map file.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM papers`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(s.conceptMapsDir, "*.json"))
	if err != nil {
		return nil
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

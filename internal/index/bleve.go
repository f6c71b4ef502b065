// Package index provides Bleve-backed passage search over cloned repositories.
// Each paper gets its own collection, a separate index directory under the
// index root.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hyperjump/ronbun/internal/gitrepo"
	"github.com/hyperjump/ronbun/internal/models"
	"go.uber.org/zap"
)

const batchSize = 100

// codeDocument is the indexed shape of one repository file.
type codeDocument struct {
	Path       string `json:"path"`
	Repository string `json:"repository"`
	Content    string `json:"content"`
	FileType   string `json:"file_type"`
}

// BleveIndexer indexes repository files into per-collection Bleve indices and
// searches them. Open index handles are cached and shared.
type BleveIndexer struct {
	indexRoot    string
	extensions   []string
	maxFileBytes int64
	logger       *zap.Logger

	mu   sync.Mutex
	open map[string]bleve.Index
}

// IndexerOption configures a BleveIndexer.
type IndexerOption func(*BleveIndexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(b *BleveIndexer) { b.logger = l }
}

// NewBleveIndexer creates an indexer rooted at indexRoot. extensions filters
// which files are indexed; maxFileKB caps individual file size (0 = no cap).
func NewBleveIndexer(indexRoot string, extensions []string, maxFileKB int, opts ...IndexerOption) *BleveIndexer {
	b := &BleveIndexer{
		indexRoot:    indexRoot,
		extensions:   extensions,
		maxFileBytes: int64(maxFileKB) * 1024,
		open:         make(map[string]bleve.Index),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func indexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so identifiers
	// like "softmax" match exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("path", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("repository", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("file_type", keywordFieldMapping)
	im.DefaultMapping = docMapping
	return im
}

func (b *BleveIndexer) collectionPath(collection string) string {
	return filepath.Join(b.indexRoot, collection)
}

// openIndex returns the cached handle for collection, opening or creating the
// underlying index as needed.
func (b *BleveIndexer) openIndex(collection string, create bool) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.open[collection]; ok {
		return idx, nil
	}
	path := b.collectionPath(collection)
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open index %s: %w", collection, openErr)
		}
		b.open[collection] = idx
		return idx, nil
	}
	if !create {
		return nil, fmt.Errorf("index %s: %w", collection, models.ErrNotFound)
	}
	if err := os.MkdirAll(b.indexRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %w", err)
	}
	idx, err := bleve.New(path, indexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", collection, err)
	}
	b.open[collection] = idx
	return idx, nil
}

// HasContent reports whether the collection exists and holds documents.
func (b *BleveIndexer) HasContent(collection string) (bool, error) {
	if _, err := os.Stat(b.collectionPath(collection)); os.IsNotExist(err) {
		return false, nil
	}
	idx, err := b.openIndex(collection, false)
	if err != nil {
		return false, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IndexRepository walks repoPath and indexes every matching file into the
// collection. Returns the number of files indexed.
func (b *BleveIndexer) IndexRepository(ctx context.Context, repoPath, collection string) (int, error) {
	idx, err := b.openIndex(collection, true)
	if err != nil {
		return 0, err
	}
	repoName := filepath.Base(repoPath)

	batch := idx.NewBatch()
	indexed := 0
	pending := 0
	err = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != repoPath && gitrepo.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !b.extensionAllowed(ext) {
			return nil
		}
		info, statErr := os.Stat(path)
		if statErr != nil || !info.Mode().IsRegular() {
			return nil
		}
		if b.maxFileBytes > 0 && info.Size() > b.maxFileBytes {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			rel = path
		}
		doc := &codeDocument{
			Path:       rel,
			Repository: repoName,
			Content:    string(content),
			FileType:   strings.TrimPrefix(ext, "."),
		}
		if err := batch.Index(rel, doc); err != nil {
			return err
		}
		indexed++
		pending++
		if pending >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return err
			}
			batch = idx.NewBatch()
			pending = 0
		}
		return nil
	})
	if err != nil {
		return indexed, fmt.Errorf("failed to index %s: %w", repoPath, err)
	}
	if pending > 0 {
		if err := idx.Batch(batch); err != nil {
			return indexed, fmt.Errorf("failed to index %s: %w", repoPath, err)
		}
	}
	if b.logger != nil {
		b.logger.Info("repository indexed",
			zap.String("collection", collection), zap.String("path", repoPath), zap.Int("files", indexed))
	}
	return indexed, nil
}

// Search runs a match query against the collection and returns up to limit
// passages. Scores are normalized to (0, 1) as score/(score+1).
func (b *BleveIndexer) Search(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error) {
	idx, err := b.openIndex(collection, false)
	if err != nil {
		return nil, err
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}
	results, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	passages := make([]*models.Passage, 0, len(results.Hits))
	for _, hit := range results.Hits {
		p := &models.Passage{
			DocumentID: hit.ID,
			Score:      hit.Score / (hit.Score + 1),
		}
		if v, ok := hit.Fields["content"].(string); ok {
			p.Text = v
		}
		if v, ok := hit.Fields["path"].(string); ok {
			p.FilePath = v
		}
		if v, ok := hit.Fields["repository"].(string); ok {
			p.Repository = v
		}
		if v, ok := hit.Fields["file_type"].(string); ok {
			p.FileType = v
		}
		passages = append(passages, p)
	}
	return passages, nil
}

// DeleteCollection closes and removes the collection's index directory.
func (b *BleveIndexer) DeleteCollection(collection string) error {
	b.mu.Lock()
	if idx, ok := b.open[collection]; ok {
		_ = idx.Close()
		delete(b.open, collection)
	}
	b.mu.Unlock()
	return os.RemoveAll(b.collectionPath(collection))
}

// Close closes all open index handles.
func (b *BleveIndexer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, idx := range b.open {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.open, name)
	}
	return firstErr
}

func (b *BleveIndexer) extensionAllowed(ext string) bool {
	if len(b.extensions) == 0 {
		return true
	}
	extNorm := strings.TrimPrefix(ext, ".")
	for _, e := range b.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

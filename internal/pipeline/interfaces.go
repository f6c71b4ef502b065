// Package pipeline orchestrates the search, select, initialize, and chat
// phases of a paper Q&A session.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/hyperjump/ronbun/internal/models"
)

// PaperLookup resolves arXiv papers and fetches their PDFs.
type PaperLookup interface {
	// ByID fetches metadata for one paper; ErrNotFound for unknown IDs.
	ByID(ctx context.Context, id string) (*models.PaperMeta, error)
	// Search finds up to limit candidate papers; no matches is an empty slice.
	Search(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error)
	// Download fetches the paper's PDF and returns its local path.
	Download(ctx context.Context, meta *models.PaperMeta) (string, error)
}

// RepositoryLocator finds the paper's companion code repository.
type RepositoryLocator interface {
	// Locate returns the repository URL; ErrNotFound when none is known.
	// pdfPath may be empty.
	Locate(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error)
}

// RepositoryCloner materializes a repository on local disk. Clone is
// idempotent: an already-cloned repository returns its existing path.
type RepositoryCloner interface {
	Clone(ctx context.Context, repoURL string) (string, error)
}

// CodeIndexer maintains per-collection passage indices over repositories.
type CodeIndexer interface {
	HasContent(collection string) (bool, error)
	IndexRepository(ctx context.Context, repoPath, collection string) (int, error)
	Search(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error)
}

// AnswerSynthesizer turns retrieved passages into answers and builds the
// paper's concept map.
type AnswerSynthesizer interface {
	Answer(ctx context.Context, question string, passages []*models.Passage, meta *models.PaperMeta) (string, error)
	ConceptMap(ctx context.Context, meta *models.PaperMeta, readme string, fileTree []string) (json.RawMessage, error)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/ronbun/internal/cache"
	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/discovery"
	"github.com/hyperjump/ronbun/internal/gitrepo"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/session"
	"go.uber.org/zap"
)

// Deps are the stores and collaborators an Orchestrator works with.
type Deps struct {
	Sessions *session.Store
	Cache    *cache.Store
	Papers   PaperLookup
	Locator  RepositoryLocator
	Cloner   RepositoryCloner
	Indexer  CodeIndexer
	Synth    AnswerSynthesizer
}

// Orchestrator drives a session through search, selection, initialization,
// and chat. All state transitions go through the session store's Update.
type Orchestrator struct {
	deps   Deps
	cfg    *config.SearchConfig
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates an orchestrator. logger may be nil.
func New(deps Deps, cfg *config.SearchConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// CollectionName derives the index collection for a normalized arXiv ID.
func CollectionName(arxivID string) string {
	return "paper_" + strings.ReplaceAll(cache.NormalizeID(arxivID), ".", "_")
}

// SearchResult is the outcome of a Search call.
type SearchResult struct {
	// Status is "resolved", "options", or "no_results".
	Status   string                `json:"status"`
	Resolved *models.PaperMeta     `json:"resolved,omitempty"`
	Options  []*models.PaperOption `json:"options,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// Search resolves a query to either a single paper (ID-shaped queries) or a
// short list of candidates awaiting selection.
func (o *Orchestrator) Search(ctx context.Context, sessionID, query string) (*SearchResult, error) {
	if _, ok := o.deps.Sessions.Get(sessionID); !ok {
		return nil, ErrUnknownSession
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	if discovery.IsArxivRef(query) {
		meta, err := o.deps.Papers.ByID(ctx, query)
		switch {
		case err == nil:
			o.deps.Sessions.Update(sessionID, func(s *session.Session) {
				s.ClearSelection()
				s.OriginalQuery = query
			})
			o.logger.Debug("query resolved directly",
				zap.String("session_id", sessionID), zap.String("arxiv_id", meta.ArxivID))
			return &SearchResult{Status: "resolved", Resolved: meta}, nil
		case errors.Is(err, models.ErrNotFound):
			// The direct lookup is an optimization; an unknown ID degrades to
			// the broader search below.
			o.logger.Debug("direct lookup missed, falling back to search",
				zap.String("session_id", sessionID), zap.String("query", query))
		default:
			return nil, &StageError{Stage: StagePaper, Err: err}
		}
	}

	limit := 3
	if o.cfg != nil && o.cfg.MaxOptions > 0 {
		limit = o.cfg.MaxOptions
	}
	candidates, err := o.deps.Papers.Search(ctx, query, limit)
	if err != nil {
		return nil, &StageError{Stage: StagePaper, Err: err}
	}
	if len(candidates) == 0 {
		o.deps.Sessions.Update(sessionID, func(s *session.Session) { s.ClearSelection() })
		return &SearchResult{Status: "no_results", Message: "no papers found for " + strconv.Quote(query)}, nil
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	o.deps.Sessions.Update(sessionID, func(s *session.Session) {
		s.State = session.StateAwaitingSelection
		s.PendingOptions = candidates
		s.OriginalQuery = query
	})

	options := make([]*models.PaperOption, len(candidates))
	for i, meta := range candidates {
		options[i] = models.NewPaperOption(i+1, meta)
	}
	return &SearchResult{Status: "options", Options: options}, nil
}

// SelectResult is the outcome of a Select call.
type SelectResult struct {
	// Status is "selected", "cancelled", or "rejected".
	Status  string            `json:"status"`
	Paper   *models.PaperMeta `json:"paper,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Select consumes a pending candidate list: a 1-based number picks a paper,
// "cancel" abandons the selection, anything else is rejected without a state
// change.
func (o *Orchestrator) Select(ctx context.Context, sessionID, choice string) (*SelectResult, error) {
	sess, ok := o.deps.Sessions.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	if sess.State != session.StateAwaitingSelection {
		return nil, ErrNotInSelection
	}

	choice = strings.ToLower(strings.TrimSpace(choice))
	switch choice {
	case "cancel":
		o.deps.Sessions.Update(sessionID, func(s *session.Session) { s.ClearSelection() })
		return &SelectResult{Status: "cancelled", Message: "selection cancelled"}, nil
	case "more":
		return &SelectResult{
			Status:  "rejected",
			Message: "no further results are available; pick a listed option or cancel",
		}, nil
	}

	n, err := strconv.Atoi(choice)
	if err != nil {
		return &SelectResult{
			Status:  "rejected",
			Message: fmt.Sprintf("enter a number between 1 and %d, or cancel", len(sess.PendingOptions)),
		}, nil
	}
	if n < 1 || n > len(sess.PendingOptions) {
		return &SelectResult{
			Status:  "rejected",
			Message: fmt.Sprintf("selection %d is out of range (1-%d)", n, len(sess.PendingOptions)),
		}, nil
	}

	picked := sess.PendingOptions[n-1]
	o.deps.Sessions.Update(sessionID, func(s *session.Session) { s.ClearSelection() })
	o.logger.Debug("paper selected",
		zap.String("session_id", sessionID), zap.String("arxiv_id", picked.ArxivID))
	return &SelectResult{Status: "selected", Paper: picked}, nil
}

// InitResult is the outcome of a successful Initialize.
type InitResult struct {
	ArxivID      string `json:"arxiv_id"`
	Title        string `json:"title"`
	RepoURL      string `json:"repo_url"`
	RepoPath     string `json:"repo_path"`
	IndexedFiles int    `json:"indexed_files"`
	Cached       bool   `json:"cached"`
}

// Initialize prepares a session for chat about the given paper: resolve
// metadata, find and clone the repository, and index its files. Results of a
// fully successful run are cached; cache hits skip discovery, cloning, and
// indexing. At most one Initialize runs per session at a time.
func (o *Orchestrator) Initialize(ctx context.Context, sessionID, paperID string) (*InitResult, error) {
	if _, ok := o.deps.Sessions.Get(sessionID); !ok {
		return nil, ErrUnknownSession
	}

	o.mu.Lock()
	if o.inflight[sessionID] {
		o.mu.Unlock()
		return nil, ErrInitInFlight
	}
	o.inflight[sessionID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, sessionID)
		o.mu.Unlock()
	}()

	id := cache.NormalizeID(paperID)
	result, err := o.initialize(ctx, sessionID, id)
	if err != nil {
		o.deps.Sessions.Update(sessionID, func(s *session.Session) {
			s.State = session.StateFailed
			s.Handle = nil
			s.InitError = err.Error()
		})
		o.logger.Warn("initialization failed",
			zap.String("session_id", sessionID), zap.String("arxiv_id", id), zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) initialize(ctx context.Context, sessionID, id string) (*InitResult, error) {
	if entry, err := o.deps.Cache.Get(ctx, id); err == nil {
		return o.initializeFromCache(ctx, sessionID, entry)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	meta, err := o.deps.Papers.ByID(ctx, id)
	if err != nil {
		return nil, &StageError{Stage: StagePaper, Err: err}
	}
	pdfPath, err := o.deps.Papers.Download(ctx, meta)
	if err != nil {
		return nil, &StageError{Stage: StageDownload, Err: err}
	}
	repoURL, err := o.deps.Locator.Locate(ctx, meta, pdfPath)
	if err != nil {
		return nil, &StageError{Stage: StageRepository, Err: err}
	}
	repoPath, err := o.deps.Cloner.Clone(ctx, repoURL)
	if err != nil {
		return nil, &StageError{Stage: StageClone, Err: err}
	}

	collection := CollectionName(id)
	indexed := 0
	hasContent, err := o.deps.Indexer.HasContent(collection)
	if err != nil {
		return nil, &StageError{Stage: StageIndex, Err: err}
	}
	if !hasContent {
		indexed, err = o.deps.Indexer.IndexRepository(ctx, repoPath, collection)
		if err != nil {
			return nil, &StageError{Stage: StageIndex, Err: err}
		}
	}

	entry := &cache.Entry{
		ArxivID:      id,
		Title:        meta.Title,
		Authors:      meta.Authors,
		Summary:      meta.Summary,
		EntryURL:     meta.EntryURL,
		PDFURL:       meta.PDFURL,
		PDFPath:      pdfPath,
		RepoURL:      repoURL,
		RepoPath:     repoPath,
		Collection:   collection,
		IndexedAt:    time.Now(),
		IndexedFiles: indexed,
	}
	if err := o.deps.Cache.Set(ctx, entry); err != nil {
		return nil, fmt.Errorf("cache write: %w", err)
	}

	conceptMap := o.generateConceptMap(ctx, meta, repoPath, id)
	o.attachHandle(sessionID, meta, collection, conceptMap)

	o.logger.Info("paper initialized",
		zap.String("session_id", sessionID), zap.String("arxiv_id", id),
		zap.String("repo_url", repoURL), zap.Int("indexed_files", indexed))
	return &InitResult{
		ArxivID:      id,
		Title:        meta.Title,
		RepoURL:      repoURL,
		RepoPath:     repoPath,
		IndexedFiles: indexed,
		Cached:       false,
	}, nil
}

// initializeFromCache reuses a cached entry. A repository directory that has
// disappeared is re-cloned from the cached URL; discovery and indexing are
// not repeated.
func (o *Orchestrator) initializeFromCache(ctx context.Context, sessionID string, entry *cache.Entry) (*InitResult, error) {
	repoPath := entry.RepoPath
	if _, err := os.Stat(repoPath); os.IsNotExist(err) {
		o.logger.Warn("cached repository missing, re-cloning",
			zap.String("arxiv_id", entry.ArxivID), zap.String("path", repoPath))
		newPath, cloneErr := o.deps.Cloner.Clone(ctx, entry.RepoURL)
		if cloneErr != nil {
			return nil, &StageError{Stage: StageClone, Err: cloneErr}
		}
		repoPath = newPath
		if _, err := o.deps.Cache.Update(ctx, entry.ArxivID, cache.Patch{RepoPath: &newPath}); err != nil {
			return nil, fmt.Errorf("cache update: %w", err)
		}
	}

	indexed := entry.IndexedFiles
	hasContent, err := o.deps.Indexer.HasContent(entry.Collection)
	if err != nil {
		return nil, &StageError{Stage: StageIndex, Err: err}
	}
	if !hasContent {
		indexed, err = o.deps.Indexer.IndexRepository(ctx, repoPath, entry.Collection)
		if err != nil {
			return nil, &StageError{Stage: StageIndex, Err: err}
		}
		now := time.Now()
		if _, err := o.deps.Cache.Update(ctx, entry.ArxivID, cache.Patch{IndexedFiles: &indexed, IndexedAt: &now}); err != nil {
			return nil, fmt.Errorf("cache update: %w", err)
		}
	}

	meta := &models.PaperMeta{
		ArxivID:  entry.ArxivID,
		Title:    entry.Title,
		Authors:  entry.Authors,
		Summary:  entry.Summary,
		EntryURL: entry.EntryURL,
		PDFURL:   entry.PDFURL,
	}
	var conceptMap []byte
	if cm, err := o.deps.Cache.LoadConceptMap(entry.ArxivID); err == nil {
		conceptMap = cm
	}
	o.attachHandle(sessionID, meta, entry.Collection, conceptMap)

	o.logger.Info("paper initialized from cache",
		zap.String("session_id", sessionID), zap.String("arxiv_id", entry.ArxivID))
	return &InitResult{
		ArxivID:      entry.ArxivID,
		Title:        entry.Title,
		RepoURL:      entry.RepoURL,
		RepoPath:     repoPath,
		IndexedFiles: indexed,
		Cached:       true,
	}, nil
}

// generateConceptMap builds and persists the paper's concept map. Failures
// are logged and swallowed; initialization does not depend on it.
func (o *Orchestrator) generateConceptMap(ctx context.Context, meta *models.PaperMeta, repoPath, id string) []byte {
	readme := gitrepo.ReadmeContent(repoPath)
	tree := gitrepo.FileTree(repoPath, 4)
	cm, err := o.deps.Synth.ConceptMap(ctx, meta, readme, tree)
	if err != nil {
		o.logger.Warn("concept map generation failed", zap.String("arxiv_id", id), zap.Error(err))
		return nil
	}
	path, err := o.deps.Cache.SaveConceptMap(id, cm)
	if err != nil {
		o.logger.Warn("concept map save failed", zap.String("arxiv_id", id), zap.Error(err))
		return cm
	}
	if _, err := o.deps.Cache.Update(ctx, id, cache.Patch{ConceptMapPath: &path}); err != nil {
		o.logger.Warn("concept map path update failed", zap.String("arxiv_id", id), zap.Error(err))
	}
	return cm
}

func (o *Orchestrator) attachHandle(sessionID string, meta *models.PaperMeta, collection string, conceptMap []byte) {
	chatResults := 3
	if o.cfg != nil && o.cfg.ChatResults > 0 {
		chatResults = o.cfg.ChatResults
	}
	handle := &queryHandle{
		indexer:     o.deps.Indexer,
		synth:       o.deps.Synth,
		meta:        meta,
		collection:  collection,
		chatResults: chatResults,
		conceptMap:  conceptMap,
	}
	o.deps.Sessions.Update(sessionID, func(s *session.Session) {
		s.ClearSelection()
		s.State = session.StateInitialized
		s.Handle = handle
		s.InitError = ""
	})
}

// Chat answers a question in an initialized session. The session state is not
// changed by chatting, successfully or otherwise.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, message string) (*models.ChatAnswer, error) {
	var handle session.QueryHandle
	found := o.deps.Sessions.Update(sessionID, func(s *session.Session) {
		if s.State == session.StateInitialized {
			handle = s.Handle
		}
	})
	if !found {
		return nil, ErrUnknownSession
	}
	if handle == nil {
		return nil, ErrNotInitialized
	}
	return handle.Ask(ctx, message)
}

// ConceptMap returns the initialized session's concept map, or nil.
func (o *Orchestrator) ConceptMap(sessionID string) ([]byte, error) {
	var handle session.QueryHandle
	found := o.deps.Sessions.Update(sessionID, func(s *session.Session) {
		if s.State == session.StateInitialized {
			handle = s.Handle
		}
	})
	if !found {
		return nil, ErrUnknownSession
	}
	if handle == nil {
		return nil, ErrNotInitialized
	}
	return handle.ConceptMap(), nil
}

// Reset discards the session and returns a fresh one.
func (o *Orchestrator) Reset(sessionID string) (*session.Session, error) {
	if _, ok := o.deps.Sessions.Get(sessionID); !ok {
		return nil, ErrUnknownSession
	}
	o.deps.Sessions.Delete(sessionID)
	return o.deps.Sessions.Create(), nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/ronbun/internal/cache"
	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/session"
)

func paperMeta(id string) *models.PaperMeta {
	return &models.PaperMeta{
		ArxivID: id,
		Title:   "Paper " + id,
		Authors: []string{"A. Author", "B. Author", "C. Author"},
		Summary: "Summary of " + id,
		PDFURL:  "https://arxiv.org/pdf/" + id,
	}
}

type mockPapers struct {
	mu            sync.Mutex
	byIDFn        func(ctx context.Context, id string) (*models.PaperMeta, error)
	searchFn      func(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error)
	downloadFn    func(ctx context.Context, meta *models.PaperMeta) (string, error)
	byIDCalls     int
	searchCalls   int
	downloadCalls int
}

func (m *mockPapers) ByID(ctx context.Context, id string) (*models.PaperMeta, error) {
	m.mu.Lock()
	m.byIDCalls++
	m.mu.Unlock()
	return m.byIDFn(ctx, id)
}

func (m *mockPapers) Search(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error) {
	m.mu.Lock()
	m.searchCalls++
	m.mu.Unlock()
	return m.searchFn(ctx, query, limit)
}

func (m *mockPapers) Download(ctx context.Context, meta *models.PaperMeta) (string, error) {
	m.mu.Lock()
	m.downloadCalls++
	m.mu.Unlock()
	return m.downloadFn(ctx, meta)
}

type mockLocator struct {
	locateFn func(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error)
	calls    int
}

func (m *mockLocator) Locate(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error) {
	m.calls++
	return m.locateFn(ctx, meta, pdfPath)
}

type mockCloner struct {
	cloneFn func(ctx context.Context, repoURL string) (string, error)
	calls   int
}

func (m *mockCloner) Clone(ctx context.Context, repoURL string) (string, error) {
	m.calls++
	return m.cloneFn(ctx, repoURL)
}

type mockIndexer struct {
	mu         sync.Mutex
	content    map[string]bool
	indexCalls int
	searchFn   func(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error)
}

func (m *mockIndexer) HasContent(collection string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content[collection], nil
}

func (m *mockIndexer) IndexRepository(ctx context.Context, repoPath, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexCalls++
	m.content[collection] = true
	return 5, nil
}

func (m *mockIndexer) Search(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, collection, query, limit)
	}
	return []*models.Passage{{Text: "def f(): pass", Score: 0.6, FilePath: "f.py"}}, nil
}

type mockSynth struct {
	answerFn     func(ctx context.Context, question string, passages []*models.Passage, meta *models.PaperMeta) (string, error)
	conceptMapFn func(ctx context.Context, meta *models.PaperMeta, readme string, fileTree []string) (json.RawMessage, error)
}

func (m *mockSynth) Answer(ctx context.Context, question string, passages []*models.Passage, meta *models.PaperMeta) (string, error) {
	if m.answerFn != nil {
		return m.answerFn(ctx, question, passages, meta)
	}
	return "synthesized answer", nil
}

func (m *mockSynth) ConceptMap(ctx context.Context, meta *models.PaperMeta, readme string, fileTree []string) (json.RawMessage, error) {
	if m.conceptMapFn != nil {
		return m.conceptMapFn(ctx, meta, readme, fileTree)
	}
	return json.RawMessage(`{"main_concepts":[]}`), nil
}

type testEnv struct {
	orch     *Orchestrator
	sessions *session.Store
	cache    *cache.Store
	papers   *mockPapers
	locator  *mockLocator
	cloner   *mockCloner
	indexer  *mockIndexer
	synth    *mockSynth
	repoDir  string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cacheStore, err := cache.Open(filepath.Join(dir, "papers.db"), filepath.Join(dir, "concept_maps"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cacheStore.Close() })

	repoDir := filepath.Join(dir, "repos", "tensor2tensor")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("# repo"), 0644); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		sessions: session.NewStore(0),
		cache:    cacheStore,
		papers: &mockPapers{
			byIDFn: func(ctx context.Context, id string) (*models.PaperMeta, error) {
				return paperMeta(cache.NormalizeID(id)), nil
			},
			searchFn: func(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error) {
				return []*models.PaperMeta{paperMeta("2310.02170"), paperMeta("1810.04805"), paperMeta("1706.03762")}, nil
			},
			downloadFn: func(ctx context.Context, meta *models.PaperMeta) (string, error) {
				return filepath.Join(dir, meta.ArxivID+".pdf"), nil
			},
		},
		locator: &mockLocator{
			locateFn: func(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error) {
				return "https://github.com/tensorflow/tensor2tensor", nil
			},
		},
		cloner: &mockCloner{
			cloneFn: func(ctx context.Context, repoURL string) (string, error) {
				return repoDir, nil
			},
		},
		indexer: &mockIndexer{content: make(map[string]bool)},
		synth:   &mockSynth{},
		repoDir: repoDir,
	}
	env.orch = New(Deps{
		Sessions: env.sessions,
		Cache:    env.cache,
		Papers:   env.papers,
		Locator:  env.locator,
		Cloner:   env.cloner,
		Indexer:  env.indexer,
		Synth:    env.synth,
	}, &config.SearchConfig{MaxOptions: 3, ChatResults: 3}, nil)
	return env
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	return e.sessions.Create().ID
}

// Scenario: an ID-shaped query bypasses selection and a second initialization
// of the same paper is served from cache without re-cloning.
func TestDirectIDFlow(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)

	res, err := env.orch.Search(ctx, sid, "1706.03762v2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "resolved" {
		t.Fatalf("status = %q, want resolved", res.Status)
	}
	if res.Resolved.ArxivID != "1706.03762" {
		t.Errorf("resolved = %q", res.Resolved.ArxivID)
	}
	sess, _ := env.sessions.Get(sid)
	if sess.State != session.StateIdle {
		t.Errorf("session state = %v, want idle after direct resolution", sess.State)
	}
	if sess.OriginalQuery != "1706.03762v2" {
		t.Errorf("original query = %q, want the raw search string", sess.OriginalQuery)
	}

	init, err := env.orch.Initialize(ctx, sid, "1706.03762v2")
	if err != nil {
		t.Fatal(err)
	}
	if init.Cached {
		t.Error("first initialization should not be cached")
	}
	if init.IndexedFiles != 5 {
		t.Errorf("indexed_files = %d", init.IndexedFiles)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateInitialized || sess.Handle == nil {
		t.Errorf("session should be initialized with a handle, got %v", sess.State)
	}
	if ok, _ := env.cache.Exists(ctx, "1706.03762"); !ok {
		t.Error("cache entry should exist after success")
	}
	if _, err := env.cache.LoadConceptMap("1706.03762"); err != nil {
		t.Errorf("concept map should be persisted: %v", err)
	}

	// Second session, same paper: cache hit, nothing external re-runs.
	sid2 := env.newSession(t)
	init2, err := env.orch.Initialize(ctx, sid2, "1706.03762")
	if err != nil {
		t.Fatal(err)
	}
	if !init2.Cached {
		t.Error("second initialization should be a cache hit")
	}
	if env.cloner.calls != 1 {
		t.Errorf("cloner called %d times, want 1", env.cloner.calls)
	}
	if env.locator.calls != 1 {
		t.Errorf("locator called %d times, want 1", env.locator.calls)
	}
	if env.indexer.indexCalls != 1 {
		t.Errorf("indexer called %d times, want 1", env.indexer.indexCalls)
	}
}

// Scenario: a free-text query yields at most three candidates; a valid pick
// works and an out-of-range pick changes nothing.
func TestSelectionFlow(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)

	res, err := env.orch.Search(ctx, sid, "attention transformers")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "options" {
		t.Fatalf("status = %q", res.Status)
	}
	if len(res.Options) != 3 {
		t.Fatalf("got %d options, want 3", len(res.Options))
	}
	if res.Options[0].Index != 1 || res.Options[2].Index != 3 {
		t.Error("options should be numbered from 1 in order")
	}
	if res.Options[0].Authors != "A. Author, B. Author, et al." {
		t.Errorf("authors = %q, want shortened list", res.Options[0].Authors)
	}
	sess, _ := env.sessions.Get(sid)
	if sess.State != session.StateAwaitingSelection || len(sess.PendingOptions) != 3 {
		t.Fatalf("session should be awaiting selection with 3 pending")
	}

	sel, err := env.orch.Select(ctx, sid, "2")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Status != "selected" || sel.Paper.ArxivID != "1810.04805" {
		t.Errorf("selection = %+v", sel)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateIdle || sess.PendingOptions != nil {
		t.Error("selection should be consumed")
	}

	// New search, then invalid picks leave the selection intact.
	if _, err := env.orch.Search(ctx, sid, "bert pretraining"); err != nil {
		t.Fatal(err)
	}
	for _, choice := range []string{"99", "0", "abc", "more"} {
		sel, err := env.orch.Select(ctx, sid, choice)
		if err != nil {
			t.Fatalf("Select(%q): %v", choice, err)
		}
		if sel.Status != "rejected" {
			t.Errorf("Select(%q) status = %q, want rejected", choice, sel.Status)
		}
		sess, _ := env.sessions.Get(sid)
		if sess.State != session.StateAwaitingSelection || len(sess.PendingOptions) != 3 {
			t.Errorf("Select(%q) must not change state", choice)
		}
	}

	sel, err = env.orch.Select(ctx, sid, "cancel")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Status != "cancelled" {
		t.Errorf("status = %q", sel.Status)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateIdle {
		t.Error("cancel should return the session to idle")
	}

	// Numeric select after cancel is no longer valid.
	if _, err := env.orch.Select(ctx, sid, "1"); !errors.Is(err, ErrNotInSelection) {
		t.Errorf("expected ErrNotInSelection, got %v", err)
	}
}

// Scenario: no repository can be found; the failure names its stage and
// nothing is cached.
func TestInitialize_repositoryNotFound(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	env.locator.locateFn = func(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error) {
		return "", fmt.Errorf("repository for paper %s: %w", meta.ArxivID, models.ErrNotFound)
	}

	_, err := env.orch.Initialize(ctx, sid, "2401.00001")
	if err == nil {
		t.Fatal("expected failure")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T", err)
	}
	if stageErr.Stage != StageRepository {
		t.Errorf("stage = %q, want repository", stageErr.Stage)
	}
	if !errors.Is(err, models.ErrNotFound) {
		t.Error("cause should unwrap to ErrNotFound")
	}

	sess, _ := env.sessions.Get(sid)
	if sess.State != session.StateFailed {
		t.Errorf("session state = %v, want failed", sess.State)
	}
	if sess.InitError == "" {
		t.Error("failed session should carry the error message")
	}
	if ok, _ := env.cache.Exists(ctx, "2401.00001"); ok {
		t.Error("failed initialization must not write a cache entry")
	}
	if _, err := env.orch.Chat(ctx, sid, "hello"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("chat on failed session: %v", err)
	}
}

func TestInitialize_paperNotFound(t *testing.T) {
	env := newEnv(t)
	sid := env.newSession(t)
	env.papers.byIDFn = func(ctx context.Context, id string) (*models.PaperMeta, error) {
		return nil, fmt.Errorf("paper %s: %w", id, models.ErrNotFound)
	}
	_, err := env.orch.Initialize(context.Background(), sid, "9999.99999")
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePaper {
		t.Errorf("expected paper StageError, got %v", err)
	}
}

func TestInitialize_recoversAfterFailure(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)

	env.cloner.cloneFn = func(ctx context.Context, repoURL string) (string, error) {
		return "", fmt.Errorf("network down")
	}
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err == nil {
		t.Fatal("expected clone failure")
	}

	env.cloner.cloneFn = func(ctx context.Context, repoURL string) (string, error) {
		return env.repoDir, nil
	}
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateInitialized {
		t.Error("session should recover to initialized")
	}
}

func TestChat(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatal(err)
	}

	answer, err := env.orch.Chat(ctx, sid, "how is attention computed?")
	if err != nil {
		t.Fatal(err)
	}
	if answer.Answer != "synthesized answer" {
		t.Errorf("answer = %q", answer.Answer)
	}
	if answer.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %q, want high for top score 0.6", answer.Confidence)
	}
	if answer.NumSources != 1 {
		t.Errorf("num_sources = %d", answer.NumSources)
	}

	// Chatting does not change session state.
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateInitialized {
		t.Error("chat must not change session state")
	}
}

func TestChat_confidenceLevels(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatal(err)
	}

	env.indexer.searchFn = func(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error) {
		return []*models.Passage{{Text: "x", Score: 0.3, FilePath: "x.py"}}, nil
	}
	answer, err := env.orch.Chat(ctx, sid, "q")
	if err != nil {
		t.Fatal(err)
	}
	if answer.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %q, want medium for top score 0.3", answer.Confidence)
	}

	env.indexer.searchFn = func(ctx context.Context, collection, query string, limit int) ([]*models.Passage, error) {
		return nil, nil
	}
	answer, err = env.orch.Chat(ctx, sid, "q")
	if err != nil {
		t.Fatal(err)
	}
	if answer.Confidence != models.ConfidenceLow || answer.NumSources != 0 {
		t.Errorf("no-passage answer = %+v", answer)
	}
	if answer.Answer == "" {
		t.Error("no-passage answer should still say something")
	}
}

func TestChat_beforeInitialize(t *testing.T) {
	env := newEnv(t)
	sid := env.newSession(t)
	_, err := env.orch.Chat(context.Background(), sid, "hello")
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	if _, err := env.orch.Search(ctx, "nope", "q"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Search: %v", err)
	}
	if _, err := env.orch.Select(ctx, "nope", "1"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Select: %v", err)
	}
	if _, err := env.orch.Initialize(ctx, "nope", "1706.03762"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Initialize: %v", err)
	}
	if _, err := env.orch.Chat(ctx, "nope", "q"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Chat: %v", err)
	}
	if _, err := env.orch.Reset("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Reset: %v", err)
	}
}

// An ID-shaped query whose direct lookup misses degrades to the broader
// search instead of dead-ending.
func TestSearch_directIDMissFallsBack(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	env.papers.byIDFn = func(ctx context.Context, id string) (*models.PaperMeta, error) {
		return nil, fmt.Errorf("paper %s: %w", id, models.ErrNotFound)
	}

	res, err := env.orch.Search(ctx, sid, "2401.99999")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "options" {
		t.Fatalf("status = %q, want options from the fallback search", res.Status)
	}
	if env.papers.byIDCalls != 1 || env.papers.searchCalls != 1 {
		t.Errorf("byID calls = %d, search calls = %d; want 1 and 1",
			env.papers.byIDCalls, env.papers.searchCalls)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateAwaitingSelection {
		t.Errorf("session state = %v, want awaiting selection", sess.State)
	}

	// When the fallback also finds nothing, the miss is final.
	env.papers.searchFn = func(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error) {
		return nil, nil
	}
	res, err = env.orch.Search(ctx, sid, "2401.99999")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "no_results" {
		t.Errorf("status = %q, want no_results", res.Status)
	}
}

func TestSearch_noResults(t *testing.T) {
	env := newEnv(t)
	sid := env.newSession(t)
	env.papers.searchFn = func(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error) {
		return nil, nil
	}
	res, err := env.orch.Search(context.Background(), sid, "nothing matches this")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "no_results" {
		t.Errorf("status = %q", res.Status)
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateIdle {
		t.Error("empty search should leave the session idle")
	}
}

func TestInitialize_repairsMissingRepoPath(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatal(err)
	}

	// Point the cached entry at a directory that no longer exists.
	gone := filepath.Join(env.repoDir, "..", "deleted")
	if _, err := env.cache.Update(ctx, "1706.03762", cache.Patch{RepoPath: &gone}); err != nil {
		t.Fatal(err)
	}
	locateCallsBefore := env.locator.calls
	indexCallsBefore := env.indexer.indexCalls

	sid2 := env.newSession(t)
	init, err := env.orch.Initialize(ctx, sid2, "1706.03762")
	if err != nil {
		t.Fatal(err)
	}
	if !init.Cached {
		t.Error("repair path should still be a cache hit")
	}
	if init.RepoPath != env.repoDir {
		t.Errorf("repo_path = %q, want re-cloned path", init.RepoPath)
	}
	if env.cloner.calls != 2 {
		t.Errorf("cloner calls = %d, want 2 (one repair re-clone)", env.cloner.calls)
	}
	if env.locator.calls != locateCallsBefore {
		t.Error("repair must not re-run repository discovery")
	}
	if env.indexer.indexCalls != indexCallsBefore {
		t.Error("repair must not re-index when the collection has content")
	}
	entry, err := env.cache.Get(ctx, "1706.03762")
	if err != nil {
		t.Fatal(err)
	}
	if entry.RepoPath != env.repoDir {
		t.Errorf("cache repo_path = %q, want patched", entry.RepoPath)
	}
}

func TestInitialize_concurrentSecondCallRejected(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)

	started := make(chan struct{})
	release := make(chan struct{})
	env.papers.byIDFn = func(ctx context.Context, id string) (*models.PaperMeta, error) {
		close(started)
		<-release
		return paperMeta(id), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.orch.Initialize(ctx, sid, "1706.03762")
		done <- err
	}()
	<-started

	_, err := env.orch.Initialize(ctx, sid, "1706.03762")
	if !errors.Is(err, ErrInitInFlight) {
		t.Errorf("expected ErrInitInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}

	// Once the first finishes, a new one is allowed again (and hits cache).
	sid2 := env.newSession(t)
	if _, err := env.orch.Initialize(ctx, sid2, "1706.03762"); err != nil {
		t.Fatal(err)
	}
}

func TestInitialize_conceptMapFailureNonFatal(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	env.synth.conceptMapFn = func(ctx context.Context, meta *models.PaperMeta, readme string, fileTree []string) (json.RawMessage, error) {
		return nil, fmt.Errorf("model overloaded")
	}

	init, err := env.orch.Initialize(ctx, sid, "1706.03762")
	if err != nil {
		t.Fatalf("concept map failure must not fail initialization: %v", err)
	}
	if init.Cached {
		t.Error("fresh run should not be cached")
	}
	if _, err := env.cache.LoadConceptMap("1706.03762"); !errors.Is(err, cache.ErrNotFound) {
		t.Error("no concept map should be persisted on failure")
	}
	if sess, _ := env.sessions.Get(sid); sess.State != session.StateInitialized {
		t.Error("session should be initialized")
	}
}

func TestReset(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatal(err)
	}

	fresh, err := env.orch.Reset(sid)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == sid {
		t.Error("reset should mint a new session ID")
	}
	if fresh.State != session.StateIdle {
		t.Errorf("fresh session state = %v", fresh.State)
	}
	if _, ok := env.sessions.Get(sid); ok {
		t.Error("old session should be gone")
	}
}

func TestCollectionName(t *testing.T) {
	if got := CollectionName("1706.03762v2"); got != "paper_1706_03762" {
		t.Errorf("CollectionName = %q", got)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{Stage: StageClone, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("StageError should unwrap to its cause")
	}
	if err.Error() != "clone stage: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

// Guard against expiry racing a long initialization: the session store's
// Update on a vanished session is a no-op, so Initialize reports success but
// the state is simply gone.
func TestInitialize_sessionExpiredMidway(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	sid := env.newSession(t)
	env.papers.byIDFn = func(ctx context.Context, id string) (*models.PaperMeta, error) {
		env.sessions.Delete(sid)
		return paperMeta(id), nil
	}
	if _, err := env.orch.Initialize(ctx, sid, "1706.03762"); err != nil {
		t.Fatal(err)
	}
	if _, ok := env.sessions.Get(sid); ok {
		t.Error("session should remain deleted")
	}
}

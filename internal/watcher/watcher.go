// Package watcher observes the clone directory and reports repositories that
// disappear behind the server's back. The next initialization re-clones them;
// the watcher exists so the operator can see why.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CloneWatcher watches the top level of the clone directory and invokes a
// callback when a repository directory is removed or renamed away.
type CloneWatcher struct {
	cloneDir  string
	onMissing func(repoPath string)
	logger    *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a CloneWatcher.
type Option func(*CloneWatcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *CloneWatcher) { w.logger = l }
}

// New creates a watcher over cloneDir. onMissing is called with the removed
// repository's path.
func New(cloneDir string, onMissing func(repoPath string), opts ...Option) *CloneWatcher {
	w := &CloneWatcher{
		cloneDir:  cloneDir,
		onMissing: onMissing,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It creates the clone directory if needed and runs
// until ctx is cancelled or Stop is called.
func (w *CloneWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.cloneDir, 0755); err != nil {
		w.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.cloneDir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Debug("clone watcher started", zap.String("dir", w.cloneDir))
	}
	go w.run(ctx)
	return nil
}

func (w *CloneWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("clone watcher error", zap.Error(err))
			}
		}
	}
}

func (w *CloneWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	// Only top-level entries of the clone dir are repositories.
	if filepath.Dir(ev.Name) != filepath.Clean(w.cloneDir) {
		return
	}
	if w.logger != nil {
		w.logger.Warn("cloned repository removed", zap.String("path", ev.Name))
	}
	if w.onMissing != nil {
		w.onMissing(ev.Name)
	}
}

// Stop stops the watcher and releases resources.
func (w *CloneWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

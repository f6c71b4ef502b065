// Package gitrepo clones companion repositories and reads their contents.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Cloner performs shallow clones into a fixed parent directory.
type Cloner struct {
	cloneDir string
	logger   *zap.Logger
}

// ClonerOption configures a Cloner.
type ClonerOption func(*Cloner)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ClonerOption {
	return func(c *Cloner) { c.logger = l }
}

// NewCloner creates a cloner that places repositories under cloneDir.
func NewCloner(cloneDir string, opts ...ClonerOption) *Cloner {
	c := &Cloner{cloneDir: cloneDir}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RepoName derives the local directory name from a repository URL.
func RepoName(repoURL string) string {
	name := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Clone shallow-clones repoURL into the clone directory and returns the local
// path. An existing target directory is treated as already cloned. A failed
// clone removes its partial directory.
func (c *Cloner) Clone(ctx context.Context, repoURL string) (string, error) {
	if err := os.MkdirAll(c.cloneDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create clone directory: %w", err)
	}
	target := filepath.Join(c.cloneDir, RepoName(repoURL))
	if _, err := os.Stat(target); err == nil {
		if c.logger != nil {
			c.logger.Debug("repository already cloned", zap.String("path", target))
		}
		return target, nil
	}

	if c.logger != nil {
		c.logger.Info("cloning repository", zap.String("url", repoURL), zap.String("path", target))
	}
	_, err := git.PlainCloneContext(ctx, target, false, &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		_ = os.RemoveAll(target)
		return "", fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}
	return target, nil
}

package discovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hyperjump/ronbun/internal/models"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var githubURLRe = regexp.MustCompile(`https?://github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+`)

// knownRepos maps papers whose PDFs do not carry a usable repository link.
var knownRepos = map[string]string{
	"2310.02170": "https://github.com/SALT-NLP/DyLAN",
	"1706.03762": "https://github.com/tensorflow/tensor2tensor",
	"1810.04805": "https://github.com/google-research/bert",
}

// RepoLocator finds the companion code repository for a paper by scanning its
// PDF for a GitHub link, falling back to a table of known papers.
type RepoLocator struct {
	logger *zap.Logger
}

// RepoLocatorOption configures a RepoLocator.
type RepoLocatorOption func(*RepoLocator)

// WithRepoLogger sets a logger for debug output.
func WithRepoLogger(l *zap.Logger) RepoLocatorOption {
	return func(rl *RepoLocator) { rl.logger = l }
}

// NewRepoLocator creates a locator.
func NewRepoLocator(opts ...RepoLocatorOption) *RepoLocator {
	rl := &RepoLocator{}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Locate returns the repository URL for the paper. pdfPath may be empty, in
// which case only the known-paper table is consulted. Returns ErrNotFound
// when no repository can be determined.
func (rl *RepoLocator) Locate(ctx context.Context, meta *models.PaperMeta, pdfPath string) (string, error) {
	if pdfPath != "" {
		if repoURL := rl.scanPDF(pdfPath); repoURL != "" {
			if rl.logger != nil {
				rl.logger.Debug("repository found in pdf",
					zap.String("arxiv_id", meta.ArxivID), zap.String("repo_url", repoURL))
			}
			return repoURL, nil
		}
	}
	if repoURL, ok := knownRepos[meta.ArxivID]; ok {
		if rl.logger != nil {
			rl.logger.Debug("repository found in known table",
				zap.String("arxiv_id", meta.ArxivID), zap.String("repo_url", repoURL))
		}
		return repoURL, nil
	}
	return "", fmt.Errorf("repository for paper %s: %w", meta.ArxivID, models.ErrNotFound)
}

// scanPDF extracts the PDF's plain text and returns the first GitHub URL.
func (rl *RepoLocator) scanPDF(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		if rl.logger != nil {
			rl.logger.Debug("failed to read pdf", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	text, err := extractPDFText(content)
	if err != nil {
		if rl.logger != nil {
			rl.logger.Debug("failed to extract pdf text", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	return FindGitHubURL(text)
}

// FindGitHubURL returns the first GitHub repository URL in text, cleaned of
// trailing punctuation and a ".git" suffix. Returns "" when none is present.
func FindGitHubURL(text string) string {
	m := githubURLRe.FindString(text)
	if m == "" {
		return ""
	}
	m = strings.TrimRight(m, ".,;:")
	return strings.TrimSuffix(m, ".git")
}

func extractPDFText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

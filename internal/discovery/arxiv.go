// Package discovery resolves queries to arXiv papers and papers to their
// companion code repositories.
package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hyperjump/ronbun/internal/models"
	"go.uber.org/zap"
)

const defaultArxivBaseURL = "http://export.arxiv.org/api/query"

// IDPattern matches a bare modern arXiv identifier, optionally versioned.
var IDPattern = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)

var entryIDRe = regexp.MustCompile(`(\d{4}\.\d{4,5})(v\d+)?`)

// IsArxivRef reports whether the query names a paper directly, either as a
// bare ID or an arxiv.org URL, rather than as free text.
func IsArxivRef(query string) bool {
	query = strings.TrimSpace(query)
	return IDPattern.MatchString(query) || strings.Contains(query, "arxiv.org")
}

// ExtractID pulls the bare unversioned arXiv ID out of an ID or URL form.
// Returns "" when no ID is present.
func ExtractID(query string) string {
	m := entryIDRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return ""
	}
	return m[1]
}

// ArxivClient looks up paper metadata via the arXiv Atom API and downloads
// paper PDFs into papersDir.
type ArxivClient struct {
	baseURL    string
	httpClient *http.Client
	papersDir  string
	logger     *zap.Logger
}

// ArxivOption configures an ArxivClient.
type ArxivOption func(*ArxivClient)

// WithBaseURL overrides the arXiv API endpoint (used by tests).
func WithBaseURL(u string) ArxivOption {
	return func(c *ArxivClient) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for API calls and downloads.
func WithHTTPClient(hc *http.Client) ArxivOption {
	return func(c *ArxivClient) { c.httpClient = hc }
}

// WithArxivLogger sets a logger for debug output.
func WithArxivLogger(l *zap.Logger) ArxivOption {
	return func(c *ArxivClient) { c.logger = l }
}

// NewArxivClient creates a client that stores downloaded PDFs under papersDir.
func NewArxivClient(papersDir string, opts ...ArxivOption) *ArxivClient {
	c := &ArxivClient{
		baseURL:    defaultArxivBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		papersDir:  papersDir,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	PrimaryCategory struct {
		Term string `xml:"term,attr"`
	} `xml:"primary_category"`
}

// ByID fetches metadata for one paper. The ID may be versioned or a URL form;
// it is reduced to the bare ID first. Returns ErrNotFound for unknown IDs.
func (c *ArxivClient) ByID(ctx context.Context, id string) (*models.PaperMeta, error) {
	bare := ExtractID(id)
	if bare == "" {
		return nil, fmt.Errorf("paper %q: %w", id, models.ErrNotFound)
	}
	papers, err := c.query(ctx, url.Values{"id_list": {bare}, "max_results": {"1"}})
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, fmt.Errorf("paper %s: %w", bare, models.ErrNotFound)
	}
	return papers[0], nil
}

// Search finds up to limit papers matching the free-text query. A title
// search is tried first; when it matches nothing, an all-fields search runs.
// No matches is an empty slice, not an error.
func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]*models.PaperMeta, error) {
	if limit <= 0 {
		limit = 3
	}
	papers, err := c.search(ctx, fmt.Sprintf("ti:%q", query), limit)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		papers, err = c.search(ctx, "all:"+query, limit)
		if err != nil {
			return nil, err
		}
	}
	return papers, nil
}

func (c *ArxivClient) search(ctx context.Context, searchQuery string, limit int) ([]*models.PaperMeta, error) {
	return c.query(ctx, url.Values{
		"search_query": {searchQuery},
		"max_results":  {fmt.Sprint(limit)},
		"sortBy":       {"relevance"},
	})
}

func (c *ArxivClient) query(ctx context.Context, params url.Values) ([]*models.PaperMeta, error) {
	reqURL := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv query returned status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv feed: %w", err)
	}

	papers := make([]*models.PaperMeta, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		meta := entryToMeta(&entry)
		if meta == nil {
			continue
		}
		papers = append(papers, meta)
	}
	if c.logger != nil {
		c.logger.Debug("arxiv query", zap.String("url", reqURL), zap.Int("results", len(papers)))
	}
	return papers, nil
}

func entryToMeta(entry *atomEntry) *models.PaperMeta {
	id := ExtractID(entry.ID)
	if id == "" {
		return nil
	}
	meta := &models.PaperMeta{
		ArxivID:         id,
		Title:           strings.Join(strings.Fields(entry.Title), " "),
		Summary:         strings.TrimSpace(entry.Summary),
		EntryURL:        entry.ID,
		PrimaryCategory: entry.PrimaryCategory.Term,
	}
	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		meta.Published = t
	}
	for _, a := range entry.Authors {
		meta.Authors = append(meta.Authors, a.Name)
	}
	for _, cat := range entry.Categories {
		meta.Categories = append(meta.Categories, cat.Term)
	}
	for _, link := range entry.Links {
		if link.Title == "pdf" {
			meta.PDFURL = link.Href
		}
	}
	if meta.PDFURL == "" {
		meta.PDFURL = "https://arxiv.org/pdf/" + id
	}
	return meta
}

// Download fetches the paper's PDF into papersDir and returns the local path.
// An already-downloaded PDF is returned as-is.
func (c *ArxivClient) Download(ctx context.Context, meta *models.PaperMeta) (string, error) {
	if err := os.MkdirAll(c.papersDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create papers directory: %w", err)
	}
	path := filepath.Join(c.papersDir, meta.ArxivID+".pdf")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.PDFURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pdf download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pdf download returned status %d", resp.StatusCode)
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("pdf download failed: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	if c.logger != nil {
		c.logger.Debug("pdf downloaded", zap.String("arxiv_id", meta.ArxivID), zap.String("path", path))
	}
	return path, nil
}

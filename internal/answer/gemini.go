// Package answer synthesizes chat answers and concept maps with Gemini.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/pkg/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Gemini generates answers grounded in retrieved code passages.
type Gemini struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// GeminiOption configures a Gemini synthesizer.
type GeminiOption func(*Gemini)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) GeminiOption {
	return func(g *Gemini) { g.logger = l }
}

// NewGemini creates a synthesizer using the given API key and model.
func NewGemini(ctx context.Context, apiKey, model string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	g := &Gemini{client: client, model: model}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Answer generates a response to question using the retrieved passages and
// the paper's metadata as context.
func (g *Gemini) Answer(ctx context.Context, question string, passages []*models.Passage, meta *models.PaperMeta) (string, error) {
	prompt := buildAnswerPrompt(question, passages, meta)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ConceptMap asks the model to map the paper's main concepts to likely source
// files, returning the result as JSON.
func (g *Gemini) ConceptMap(ctx context.Context, meta *models.PaperMeta, readme string, fileTree []string) (json.RawMessage, error) {
	prompt := buildConceptMapPrompt(meta, readme, fileTree)
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("concept map generation failed: %w", err)
	}
	payload := StripJSONFences(text)
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("concept map response is not valid JSON")
	}
	return json.RawMessage(payload), nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	if g.logger != nil {
		g.logger.Debug("gemini response", zap.Int("prompt_len", len(prompt)), zap.Int("response_len", len(text)))
	}
	return text, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return nil
}

func buildAnswerPrompt(question string, passages []*models.Passage, meta *models.PaperMeta) string {
	var b strings.Builder
	b.WriteString("You are helping a researcher understand the code accompanying a paper.\n\n")
	if meta != nil {
		fmt.Fprintf(&b, "Paper: %s (arXiv:%s)\n", meta.Title, meta.ArxivID)
		if meta.Summary != "" {
			fmt.Fprintf(&b, "Abstract: %s\n", meta.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("Relevant code from the repository:\n\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "--- Source %d: %s (relevance %.2f) ---\n%s\n\n", i+1, p.FilePath, p.Score, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Answer the question using the code above. Reference file paths when pointing at implementations. If the code does not contain the answer, say so.")
	return b.String()
}

func buildConceptMapPrompt(meta *models.PaperMeta, readme string, fileTree []string) string {
	var b strings.Builder
	b.WriteString("Map the main concepts of this paper to the files in its code repository.\n\n")
	fmt.Fprintf(&b, "Paper: %s (arXiv:%s)\n", meta.Title, meta.ArxivID)
	if meta.Summary != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", meta.Summary)
	}
	if readme != "" {
		fmt.Fprintf(&b, "\nREADME:\n%s\n", utils.Truncate(readme, 4000))
	}
	if len(fileTree) > 0 {
		b.WriteString("\nRepository files:\n")
		for _, f := range fileTree {
			b.WriteString(f)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nRespond with JSON only, in this shape:\n")
	b.WriteString(`{"main_concepts": [{"concept": "...", "description": "...", "files": ["..."]}]}`)
	return b.String()
}

// StripJSONFences removes a surrounding markdown code fence from a model
// response, tolerating a ```json language tag.
func StripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

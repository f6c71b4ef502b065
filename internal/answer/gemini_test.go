package answer

import (
	"strings"
	"testing"

	"github.com/hyperjump/ronbun/internal/models"
)

func TestStripJSONFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{}\n```\n ", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripJSONFences(tt.in); got != tt.want {
				t.Errorf("StripJSONFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildAnswerPrompt(t *testing.T) {
	meta := &models.PaperMeta{ArxivID: "1706.03762", Title: "Attention Is All You Need", Summary: "Abstract text"}
	passages := []*models.Passage{
		{FilePath: "model.py", Score: 0.8, Text: "def attention(): pass"},
		{FilePath: "train.py", Score: 0.4, Text: "def train(): pass"},
	}
	prompt := buildAnswerPrompt("how is attention computed?", passages, meta)

	for _, want := range []string{
		"Attention Is All You Need",
		"arXiv:1706.03762",
		"Source 1: model.py",
		"Source 2: train.py",
		"def attention(): pass",
		"how is attention computed?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildConceptMapPrompt(t *testing.T) {
	meta := &models.PaperMeta{ArxivID: "1706.03762", Title: "Attention Is All You Need"}
	prompt := buildConceptMapPrompt(meta, "# Readme", []string{"model.py", "train.py"})
	for _, want := range []string{"main_concepts", "# Readme", "model.py", "train.py"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestNewGemini_requiresAPIKey(t *testing.T) {
	if _, err := NewGemini(t.Context(), "", "gemini-2.0-flash"); err == nil {
		t.Error("expected error for empty API key")
	}
}

package models

import (
	"strings"
	"testing"
)

func TestNewPaperOption(t *testing.T) {
	meta := &PaperMeta{
		ArxivID: "1706.03762",
		Title:   "Attention Is All You Need",
		Authors: []string{"Ashish Vaswani", "Noam Shazeer", "Niki Parmar"},
		Summary: "  " + strings.Repeat("x", 250) + "  ",
	}
	opt := NewPaperOption(2, meta)
	if opt.Index != 2 {
		t.Errorf("index = %d", opt.Index)
	}
	if opt.Authors != "Ashish Vaswani, Noam Shazeer, et al." {
		t.Errorf("authors = %q, want first two plus et al.", opt.Authors)
	}
	if opt.Summary != strings.Repeat("x", 200)+"..." {
		t.Errorf("summary = %q, want 200 chars plus ellipsis", opt.Summary)
	}

	short := NewPaperOption(1, &PaperMeta{
		ArxivID: "1810.04805",
		Title:   "BERT",
		Authors: []string{"Jacob Devlin", "Ming-Wei Chang"},
		Summary: "short",
	})
	if short.Authors != "Jacob Devlin, Ming-Wei Chang" {
		t.Errorf("authors = %q, want full list for two names", short.Authors)
	}
	if short.Summary != "short" {
		t.Errorf("summary = %q", short.Summary)
	}
}

func TestPaperOption_String(t *testing.T) {
	opt := &PaperOption{Index: 1, Title: "BERT", ArxivID: "1810.04805", Authors: "Jacob Devlin, et al."}
	got := opt.String()
	want := "1. BERT (1810.04805) by Jacob Devlin, et al."
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

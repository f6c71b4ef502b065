// Package models defines core data structures for papers, passages, and chat answers.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/ronbun/pkg/utils"
)

// PaperMeta holds the metadata of an arXiv paper.
type PaperMeta struct {
	ArxivID         string    `json:"arxiv_id"`
	Title           string    `json:"title"`
	Authors         []string  `json:"authors"`
	Summary         string    `json:"summary"`
	Published       time.Time `json:"published"`
	EntryURL        string    `json:"entry_url"`
	PDFURL          string    `json:"pdf_url"`
	Categories      []string  `json:"categories,omitempty"`
	PrimaryCategory string    `json:"primary_category,omitempty"`
}

// PaperOption is a search candidate presented to the user for selection.
type PaperOption struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	ArxivID string `json:"arxiv_id"`
	Authors string `json:"authors"`
	Summary string `json:"summary"`
}

const optionSummaryLen = 200

// NewPaperOption builds a display option for the candidate at the given 1-based index.
// Author lists are shortened to the first two names; summaries are truncated.
func NewPaperOption(index int, meta *PaperMeta) *PaperOption {
	authors := strings.Join(meta.Authors, ", ")
	if len(meta.Authors) > 2 {
		authors = strings.Join(meta.Authors[:2], ", ") + ", et al."
	}
	summary := utils.Truncate(strings.TrimSpace(meta.Summary), optionSummaryLen)
	return &PaperOption{
		Index:   index,
		Title:   meta.Title,
		ArxivID: meta.ArxivID,
		Authors: authors,
		Summary: summary,
	}
}

// String renders the option as a single selectable line.
func (o *PaperOption) String() string {
	return fmt.Sprintf("%d. %s (%s) by %s", o.Index, o.Title, o.ArxivID, o.Authors)
}

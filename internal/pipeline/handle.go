package pipeline

import (
	"context"
	"fmt"

	"github.com/hyperjump/ronbun/internal/models"
)

const noCodeAnswer = "I couldn't find relevant code for this question."

// confidenceThreshold separates high from medium confidence on the top
// passage's normalized score.
const confidenceThreshold = 0.5

// queryHandle answers questions for one initialized paper. It implements
// session.QueryHandle.
type queryHandle struct {
	indexer     CodeIndexer
	synth       AnswerSynthesizer
	meta        *models.PaperMeta
	collection  string
	chatResults int
	conceptMap  []byte
}

// Ask retrieves the most relevant passages for question and synthesizes an
// answer from them.
func (h *queryHandle) Ask(ctx context.Context, question string) (*models.ChatAnswer, error) {
	passages, err := h.indexer.Search(ctx, h.collection, question, h.chatResults)
	if err != nil {
		return nil, fmt.Errorf("passage search: %w", err)
	}
	if len(passages) == 0 {
		return &models.ChatAnswer{
			Answer:     noCodeAnswer,
			Passages:   []*models.Passage{},
			Confidence: models.ConfidenceLow,
		}, nil
	}

	answer, err := h.synth.Answer(ctx, question, passages, h.meta)
	if err != nil {
		return nil, fmt.Errorf("answer synthesis: %w", err)
	}
	confidence := models.ConfidenceMedium
	if passages[0].Score > confidenceThreshold {
		confidence = models.ConfidenceHigh
	}
	return &models.ChatAnswer{
		Answer:     answer,
		Passages:   passages,
		Confidence: confidence,
		NumSources: len(passages),
	}, nil
}

// ConceptMap returns the concept map generated at initialization, or nil.
func (h *queryHandle) ConceptMap() []byte {
	return h.conceptMap
}

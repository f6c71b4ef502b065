package models

// Passage is a retrieved code or documentation snippet with its relevance score.
// Score is normalized to (0, 1).
type Passage struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	FilePath   string  `json:"file_path"`
	Repository string  `json:"repository"`
	FileType   string  `json:"file_type,omitempty"`
	DocumentID string  `json:"-"`
}

// Confidence levels for a synthesized answer.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ChatAnswer is the response to a single chat question.
type ChatAnswer struct {
	Answer     string     `json:"answer"`
	Passages   []*Passage `json:"code_snippets"`
	Confidence string     `json:"confidence"`
	NumSources int        `json:"num_sources"`
}

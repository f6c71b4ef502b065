// Package session provides the in-memory store for interactive Q&A sessions.
package session

import (
	"context"
	"time"

	"github.com/hyperjump/ronbun/internal/models"
)

// State is the selection/initialization phase of a session.
type State int

const (
	// StateIdle means no selection is pending and no paper is initialized.
	StateIdle State = iota
	// StateAwaitingSelection means a search produced candidates awaiting a pick.
	StateAwaitingSelection
	// StateInitialized means a paper's repository is indexed and chat is available.
	StateInitialized
	// StateFailed means the last initialization attempt failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// QueryHandle answers questions once a session is initialized. Implemented by
// the pipeline; declared here so this package has no dependency on it.
type QueryHandle interface {
	Ask(ctx context.Context, question string) (*models.ChatAnswer, error)
	ConceptMap() []byte
}

// Session holds the per-conversation state. Sessions live only in memory and
// are never persisted; fields are mutated through Store.Update.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastAccessed time.Time

	State          State
	PendingOptions []*models.PaperMeta
	OriginalQuery  string
	Handle         QueryHandle
	InitError      string
}

// ClearSelection discards pending candidates and returns the session to idle.
func (s *Session) ClearSelection() {
	s.PendingOptions = nil
	s.OriginalQuery = ""
	s.State = StateIdle
}

package pipeline

import (
	"errors"
	"fmt"
)

// Initialization stages, used to name where a failure happened.
const (
	StagePaper      = "paper"
	StageDownload   = "download"
	StageRepository = "repository"
	StageClone      = "clone"
	StageIndex      = "index"
)

// StageError wraps a failure with the initialization stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Client-facing sentinel errors.
var (
	// ErrUnknownSession reports a missing or expired session ID.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotInSelection reports a Select call outside the selection phase.
	ErrNotInSelection = errors.New("session is not awaiting a selection")
	// ErrNotInitialized reports a Chat call before a successful Initialize.
	ErrNotInitialized = errors.New("session is not initialized")
	// ErrInitInFlight reports a concurrent Initialize on the same session.
	ErrInitInFlight = errors.New("initialization already in progress")
)

package models

import "errors"

// ErrNotFound reports that a paper, repository, or cache entry does not exist.
// Collaborators return it (possibly wrapped) so callers can branch with errors.Is.
var ErrNotFound = errors.New("not found")

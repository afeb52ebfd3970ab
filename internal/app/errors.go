package app

import "errors"

// Port-boundary errors translated by the persistence adapter.
var (
	// ErrNotFound reports that the requested aggregate does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that the persistence layer detected a stale
	// aggregate version at save time. The caller should reload and retry
	// the transition from fresh state.
	ErrConflict = errors.New("aggregate version conflict")
)

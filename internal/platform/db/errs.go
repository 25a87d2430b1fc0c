package db

import "errors"

// Shared store error taxonomy. Repositories translate driver-level results
// into these sentinels; services and handlers branch on them with errors.Is.
var (
	// ErrNotFound indicates a point lookup matched no row.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a conditional update affected zero rows: the
	// caller lost a race and must re-read current state before retrying.
	ErrConflict = errors.New("conditional update affected no rows")
)

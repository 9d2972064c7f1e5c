package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when no entry exists for a key or it expired.
	ErrNotFound = errors.New("replay entry not found")
)

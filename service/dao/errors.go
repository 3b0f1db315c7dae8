package dao

import "errors"

// Sentinel errors every Service implementation returns for the same
// condition, so callers can branch with errors.Is regardless of backend.
var (
	// ErrNotFound is returned by Load/Delete when id has no matching row.
	ErrNotFound = errors.New("dao: not found")

	// ErrInvalidID is returned when the supplied id/key is empty.
	ErrInvalidID = errors.New("dao: invalid id")

	// ErrNilEntity is returned when Save is called with a nil pointer.
	ErrNilEntity = errors.New("dao: nil entity")
)

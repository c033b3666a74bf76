package store

import "errors"

var (
	// ErrConflict is returned when the overlap exclusion constraint rejects a write.
	ErrConflict = errors.New("store: booking overlaps an active booking")
	ErrNotFound = errors.New("store: not found")
	// ErrIdempotencyConflict means a deterministic booking id is already taken by a
	// booking with different parameters.
	ErrIdempotencyConflict = errors.New("store: idempotency key reused for a different booking")
)

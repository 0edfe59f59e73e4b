package storage

import "errors"

// Sentinel errors the adapter exposes. Callers map these to the response
// taxonomy; only ErrUnavailable is retryable.
var (
	ErrNotFound    = errors.New("record not found")
	ErrUnavailable = errors.New("store unavailable")
	ErrConstraint  = errors.New("constraint violation")
)

package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrUnavailable is returned when the backend cannot be reached or the
// circuit breaker is open. Callers surface it as 503.
var ErrUnavailable = errors.New("storage: unavailable")

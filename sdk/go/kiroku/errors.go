// Package kiroku is a Go client for the kiroku telemetry service. MCP
// servers use Send to report events; operators use the query and delete
// methods.
package kiroku

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Fields carries per-field validation failures from POST /telemetry.
	Fields []FieldError
}

func (e *Error) Error() string {
	return fmt.Sprintf("kiroku: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// FieldError is one validation failure reported by ingestion.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func statusIs(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return statusIs(err, http.StatusUnauthorized) }

// IsInvalid returns true if the server rejected the request as malformed.
func IsInvalid(err error) bool { return statusIs(err, http.StatusBadRequest) }

// IsTooLarge returns true if the event body exceeded the server's cap.
func IsTooLarge(err error) bool { return statusIs(err, http.StatusRequestEntityTooLarge) }

// IsRateLimited returns true if the error is a 429.
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsUnavailable returns true for 503: the ingest pipeline is saturated or
// storage is down. Both are worth retrying later.
func IsUnavailable(err error) bool { return statusIs(err, http.StatusServiceUnavailable) }

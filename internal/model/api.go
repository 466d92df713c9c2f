package model

import (
	"time"
)

// APIError is the error envelope for operator endpoints.
type APIError struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "SERVICE_UNAVAILABLE"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
)

// Status values used in response bodies.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// FieldError is a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// IngestResponse is the success body for POST /telemetry.
type IngestResponse struct {
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// IngestError is the failure body for POST /telemetry.
type IngestError struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// EventResponse is the body for GET /api/events/{id}.
type EventResponse struct {
	Status string `json:"status"`
	Event  Event  `json:"event"`
}

// DeleteResponse is the body for the delete endpoints. DeletedCount is nil
// for single-id deletes.
type DeleteResponse struct {
	Status       string `json:"status"`
	DeletedCount *int64 `json:"deletedCount,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// StatsResponse is the body for GET /api/stats.
type StatsResponse struct {
	Total int `json:"total"`
}

// DatabaseSizeResponse is the body for GET /api/database-size.
type DatabaseSizeResponse struct {
	Size          int64    `json:"size"`
	MaxSize       *int64   `json:"maxSize,omitempty"`
	SizeFormatted string   `json:"sizeFormatted"`
	Percentage    *float64 `json:"percentage,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"apiKey"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResponse is the JSON body for GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      float64        `json:"uptime"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
	Memory      HealthMemory   `json:"memory"`
	Database    HealthDatabase `json:"database"`
	Stats       HealthStats    `json:"stats"`
	Ingest      HealthIngest   `json:"ingest"`
}

// HealthMemory reports Go runtime memory in bytes.
type HealthMemory struct {
	Alloc     uint64 `json:"alloc"`
	Sys       uint64 `json:"sys"`
	HeapInuse uint64 `json:"heapInuse"`
}

// HealthDatabase reports the storage backend and probe result.
type HealthDatabase struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// HealthStats carries the row count at probe time.
type HealthStats struct {
	TotalEvents int `json:"totalEvents"`
}

// HealthIngest reports ingest pipeline occupancy.
type HealthIngest struct {
	InFlight int64 `json:"inFlight"`
	Capacity int64 `json:"capacity"`
}

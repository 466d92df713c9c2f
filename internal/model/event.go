package model

import (
	"time"
)

// Well-known event kinds emitted by MCP servers. The set is open: any
// non-empty kind is accepted at ingestion.
const (
	EventToolCall     = "tool_call"
	EventToolError    = "tool_error"
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventError        = "error"
	EventCustom       = "custom"
)

// EventInput is the canonical record produced by payload normalization.
// Optional fields are nil when absent or empty on the wire.
type EventInput struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	ServerID  *string        `json:"server_id,omitempty"`
	Version   *string        `json:"version,omitempty"`
	SessionID *string        `json:"session_id,omitempty"`
	UserID    *string        `json:"user_id,omitempty"`
	Data      map[string]any `json:"data"`
}

// Event is a stored telemetry record. Immutable once written.
type Event struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	ServerID   *string        `json:"server_id"`
	Version    *string        `json:"version"`
	SessionID  *string        `json:"session_id"`
	UserID     *string        `json:"user_id"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewEvent stamps a canonical record with its receipt instant.
// CreatedAt is left zero; the driver assigns it at persist time.
func NewEvent(in EventInput, receivedAt time.Time) Event {
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Event:      in.Event,
		Timestamp:  in.Timestamp,
		ServerID:   in.ServerID,
		Version:    in.Version,
		SessionID:  in.SessionID,
		UserID:     in.UserID,
		Data:       data,
		ReceivedAt: receivedAt,
	}
}

// EventTypeCount is one row of the per-kind counter aggregate.
type EventTypeCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// Session is a rollup over all events sharing a session_id.
type Session struct {
	SessionID  string    `json:"session_id"`
	Count      int64     `json:"count"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
	UserID     *string   `json:"user_id"`
	UserName   *string   `json:"user_name"`
}

// ActivityPoint is a lightweight event projection used by clients to
// bucket activity over time.
type ActivityPoint struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	ServerID  *string   `json:"server_id"`
	SessionID *string   `json:"session_id"`
}

// SizeInfo reports storage usage. Limit is nil when no maximum is configured.
type SizeInfo struct {
	Bytes int64  `json:"bytes"`
	Limit *int64 `json:"limit,omitempty"`
}

// UserName extracts data.user.name when it is a string.
func UserName(data map[string]any) *string {
	user, ok := data["user"].(map[string]any)
	if !ok {
		return nil
	}
	name, ok := user["name"].(string)
	if !ok {
		return nil
	}
	return &name
}

package model

import (
	"strings"
	"time"
)

// Pagination bounds for event queries.
const (
	DefaultEventLimit    = 50
	DefaultSessionLimit  = 100
	DefaultActivityLimit = 1000
	MaxQueryLimit        = 10000
)

// Sortable columns. Anything else falls back to DefaultOrderBy.
var sortableColumns = map[string]bool{
	"id":         true,
	"event":      true,
	"timestamp":  true,
	"created_at": true,
	"server_id":  true,
}

const (
	DefaultOrderBy = "created_at"
	DefaultOrder   = "DESC"
)

// EventFilter is the typed bundle of query options shared by event queries,
// counts, and activity fetches. Limit is a pointer so that an explicit zero
// can be told apart from "unset".
type EventFilter struct {
	Limit      *int       `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
	EventTypes []string   `json:"event_types,omitempty"`
	ServerID   *string    `json:"server_id,omitempty"`
	SessionID  *string    `json:"session_id,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	OrderBy    string     `json:"order_by,omitempty"`
	Order      string     `json:"order,omitempty"`
}

// SessionFilter scopes the session rollup.
type SessionFilter struct {
	Limit     *int       `json:"limit,omitempty"`
	ServerID  *string    `json:"server_id,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// ClampLimit resolves a requested limit against a default and the hard ceiling.
// Nil or negative values yield def; values above MaxQueryLimit are clamped.
func ClampLimit(limit *int, def int) int {
	if limit == nil || *limit < 0 {
		return def
	}
	if *limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return *limit
}

// EffectiveLimit returns the row cap for event queries.
func (f EventFilter) EffectiveLimit() int {
	return ClampLimit(f.Limit, DefaultEventLimit)
}

// EffectiveOffset never returns a negative value.
func (f EventFilter) EffectiveOffset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// SortColumn returns OrderBy if whitelisted, else DefaultOrderBy.
func (f EventFilter) SortColumn() string {
	if sortableColumns[f.OrderBy] {
		return f.OrderBy
	}
	return DefaultOrderBy
}

// SortDirection returns ASC or DESC; unrecognized values yield DefaultOrder.
func (f EventFilter) SortDirection() string {
	switch strings.ToUpper(strings.TrimSpace(f.Order)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	default:
		return DefaultOrder
	}
}

// EventPage wraps a filtered page of events with its pagination cursor.
type EventPage struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}

// NewEventPage computes HasMore from the page bounds.
func NewEventPage(events []Event, total, limit, offset int) EventPage {
	if events == nil {
		events = []Event{}
	}
	return EventPage{
		Events:  events,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(events) < total,
	}
}

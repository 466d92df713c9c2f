package kiroku

import "time"

// Event is one telemetry record to submit. ServerID, Version and SessionID
// default to the client's configured values when empty.
type Event struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	ServerID  string         `json:"server_id,omitempty"`
	Version   string         `json:"version,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// StoredEvent is an event as read back from the server.
type StoredEvent struct {
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

// EventPage is one page of GET /api/events.
type EventPage struct {
	Events  []StoredEvent `json:"events"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"hasMore"`
}

// Filter narrows event reads. Zero values are omitted from the query.
type Filter struct {
	Limit      int
	Offset     int
	EventTypes []string
	ServerID   string
	SessionID  string
	Start      time.Time
	End        time.Time
	OrderBy    string
	Order      string
}

// EventTypeCount is one row of GET /api/event-types.
type EventTypeCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// Session is one row of the session rollup.
type Session struct {
	SessionID  string    `json:"session_id"`
	Count      int64     `json:"count"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
	UserID     *string   `json:"user_id"`
	UserName   *string   `json:"user_name"`
}

// ActivityPoint is a lightweight row for charting.
type ActivityPoint struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	ServerID  *string   `json:"server_id"`
	SessionID *string   `json:"session_id"`
}

// DatabaseSize reports the storage footprint.
type DatabaseSize struct {
	Size          int64    `json:"size"`
	MaxSize       *int64   `json:"maxSize"`
	SizeFormatted string   `json:"sizeFormatted"`
	Percentage    *float64 `json:"percentage"`
}

// Health is the JSON body of GET /health.
type Health struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Database    struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"database"`
	Stats struct {
		TotalEvents int `json:"totalEvents"`
	} `json:"stats"`
}

type ingestResponse struct {
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type eventResponse struct {
	Event StoredEvent `json:"event"`
}

type deleteResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

type statsResponse struct {
	Total int `json:"total"`
}

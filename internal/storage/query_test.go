package storage_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

func ptr[T any](v T) *T { return &v }

func TestSelectEventsSQL_PostgresPlaceholders(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := storage.SelectEventsSQL(storage.Postgres, model.EventFilter{
		EventTypes: []string{"tool_call", "tool_error"},
		ServerID:   ptr("srv"),
		SessionID:  ptr("s1"),
		StartDate:  &start,
		Limit:      ptr(10),
		Offset:     20,
	})
	assert.Contains(t, q, "event IN ($1, $2)")
	assert.Contains(t, q, "server_id = $3")
	assert.Contains(t, q, "session_id = $4")
	assert.Contains(t, q, "created_at >= $5")
	assert.Contains(t, q, "LIMIT $6 OFFSET $7")
	assert.Equal(t, []any{"tool_call", "tool_error", "srv", "s1", start, 10, 20}, args)
}

func TestSelectEventsSQL_SQLitePlaceholders(t *testing.T) {
	end := time.Date(2025, 1, 2, 3, 4, 5, 6000, time.FixedZone("x", 3600))
	q, args := storage.SelectEventsSQL(storage.SQLite, model.EventFilter{
		EventTypes: []string{"tool_call"},
		EndDate:    &end,
	})
	assert.Contains(t, q, "event = ?")
	assert.Contains(t, q, "created_at <= ?")
	assert.NotContains(t, q, "$")
	assert.Equal(t, []any{"tool_call", "2025-01-02T02:04:05.000006Z", model.DefaultEventLimit, 0}, args)
}

func TestSelectEventsSQL_NoFilterHasNoWhere(t *testing.T) {
	q, _ := storage.SelectEventsSQL(storage.Postgres, model.EventFilter{})
	assert.NotContains(t, q, "WHERE")
	assert.Contains(t, q, "ORDER BY created_at DESC, id DESC")
}

func TestSelectEventsSQL_HostileOrderingIsNeverInterpolated(t *testing.T) {
	for _, f := range []model.EventFilter{
		{OrderBy: "id;DROP TABLE telemetry_events", Order: "ASC"},
		{OrderBy: "created_at", Order: "DESC; DROP TABLE telemetry_events"},
		{OrderBy: "(SELECT 1)", Order: "--"},
	} {
		q, _ := storage.SelectEventsSQL(storage.SQLite, f)
		assert.NotContains(t, q, "DROP")
		assert.NotContains(t, q, "SELECT 1")
		assert.NotContains(t, q, "--")
	}
	q, _ := storage.SelectEventsSQL(storage.SQLite, model.EventFilter{OrderBy: "id;DROP"})
	assert.Contains(t, q, "ORDER BY created_at DESC, id DESC")
}

func TestSelectEventsSQL_OrderByID(t *testing.T) {
	q, _ := storage.SelectEventsSQL(storage.Postgres, model.EventFilter{OrderBy: "id", Order: "asc"})
	assert.Contains(t, q, "ORDER BY id ASC LIMIT")
}

func TestCountByEventSQL_IgnoresPaginationAndOrdering(t *testing.T) {
	q, args := storage.CountByEventSQL(storage.Postgres, model.EventFilter{
		SessionID: ptr("s"),
		Limit:     ptr(1),
		Offset:    5,
		OrderBy:   "id",
	})
	assert.NotContains(t, q, "LIMIT")
	assert.NotContains(t, q, "OFFSET")
	assert.Contains(t, q, "ORDER BY cnt DESC, event ASC")
	assert.Equal(t, []any{"s"}, args)
}

func TestActivitySQL_AscendingAndCapped(t *testing.T) {
	q, args := storage.ActivitySQL(storage.SQLite, model.EventFilter{Limit: ptr(model.MaxQueryLimit + 5)})
	assert.Contains(t, q, "ORDER BY created_at ASC, id ASC")
	assert.Equal(t, []any{model.MaxQueryLimit}, args)

	_, args = storage.ActivitySQL(storage.SQLite, model.EventFilter{})
	assert.Equal(t, []any{model.DefaultActivityLimit}, args)
}

func TestSessionsSQL_PlaceholderOrderMatchesText(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := storage.SessionsSQL(storage.SQLite, model.SessionFilter{
		ServerID:  ptr("srv"),
		StartDate: &start,
		Limit:     ptr(3),
	})
	assert.Equal(t, 4, strings.Count(q, "?"))
	assert.Equal(t, []any{model.EventSessionStart, "srv", storage.FormatSQLiteTime(start), 3}, args)

	// The session_start kind is the first placeholder in the text.
	first := strings.Index(q, "?")
	assert.Contains(t, q[:first+1], "s.event = ?")
}

func TestSessionsSQL_PostgresCastsPayload(t *testing.T) {
	q, args := storage.SessionsSQL(storage.Postgres, model.SessionFilter{})
	assert.Contains(t, q, "s.data::text")
	assert.Contains(t, q, "s.event = $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Equal(t, []any{model.EventSessionStart, model.DefaultSessionLimit}, args)
}

func TestSQLiteTime_FixedWidthOrdering(t *testing.T) {
	a := storage.FormatSQLiteTime(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	b := storage.FormatSQLiteTime(time.Date(2025, 1, 1, 10, 0, 0, 500, time.UTC))
	c := storage.FormatSQLiteTime(time.Date(2025, 1, 1, 10, 0, 0, 1000, time.UTC))
	assert.Len(t, a, len(b))
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	got, err := storage.ParseSQLiteTime(c)
	assert.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 1, 1, 10, 0, 0, 1000, time.UTC)))

	got, err = storage.ParseSQLiteTime("2025-01-15T10:30:00.123Z")
	assert.NoError(t, err)
	assert.Equal(t, 123*time.Millisecond, time.Duration(got.Nanosecond()))

	_, err = storage.ParseSQLiteTime("yesterday")
	assert.Error(t, err)
}

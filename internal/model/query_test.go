package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kiroku/internal/model"
)

// ptr is a convenience helper for pointer literals in test cases.
func ptr[T any](v T) *T { return &v }

// ---- limits -------------------------------------------------------------

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{"unset uses default", nil, model.DefaultEventLimit},
		{"negative uses default", ptr(-5), model.DefaultEventLimit},
		{"zero is honored", ptr(0), 0},
		{"within range", ptr(200), 200},
		{"at ceiling", ptr(model.MaxQueryLimit), model.MaxQueryLimit},
		{"above ceiling is clamped", ptr(model.MaxQueryLimit + 1), model.MaxQueryLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := model.EventFilter{Limit: tt.limit}
			assert.Equal(t, tt.want, f.EffectiveLimit())
		})
	}
}

func TestEffectiveOffset_NegativeBecomesZero(t *testing.T) {
	assert.Equal(t, 0, model.EventFilter{Offset: -10}.EffectiveOffset())
	assert.Equal(t, 7, model.EventFilter{Offset: 7}.EffectiveOffset())
}

// ---- ordering -----------------------------------------------------------

func TestSortColumn_Whitelist(t *testing.T) {
	for _, col := range []string{"id", "event", "timestamp", "created_at", "server_id"} {
		assert.Equal(t, col, model.EventFilter{OrderBy: col}.SortColumn())
	}
	for _, col := range []string{"", "id;DROP", "data", "session_id", "ID", "created_at DESC"} {
		assert.Equal(t, "created_at", model.EventFilter{OrderBy: col}.SortColumn(), col)
	}
}

func TestSortDirection(t *testing.T) {
	assert.Equal(t, "ASC", model.EventFilter{Order: "asc"}.SortDirection())
	assert.Equal(t, "ASC", model.EventFilter{Order: " Asc "}.SortDirection())
	assert.Equal(t, "DESC", model.EventFilter{Order: "desc"}.SortDirection())
	assert.Equal(t, "DESC", model.EventFilter{Order: ""}.SortDirection())
	assert.Equal(t, "DESC", model.EventFilter{Order: "ASC; DROP TABLE x"}.SortDirection())
}

// ---- pages --------------------------------------------------------------

func TestNewEventPage_HasMore(t *testing.T) {
	rows := make([]model.Event, 10)
	assert.True(t, model.NewEventPage(rows, 25, 10, 0).HasMore)
	assert.True(t, model.NewEventPage(rows, 25, 10, 10).HasMore)
	assert.False(t, model.NewEventPage(rows[:5], 25, 10, 20).HasMore)
}

func TestNewEventPage_NilRowsEncodeAsEmpty(t *testing.T) {
	p := model.NewEventPage(nil, 3, 0, 0)
	assert.NotNil(t, p.Events)
	assert.Empty(t, p.Events)
	assert.True(t, p.HasMore)
}

// ---- events -------------------------------------------------------------

func TestNewEvent_DefaultsData(t *testing.T) {
	now := time.Now()
	ev := model.NewEvent(model.EventInput{Event: "tool_call"}, now)
	assert.NotNil(t, ev.Data)
	assert.Empty(t, ev.Data)
	assert.Equal(t, now, ev.ReceivedAt)
	assert.True(t, ev.CreatedAt.IsZero())
}

func TestUserName(t *testing.T) {
	assert.Equal(t, ptr("Alice"), model.UserName(map[string]any{"user": map[string]any{"name": "Alice"}}))
	assert.Nil(t, model.UserName(map[string]any{"user": map[string]any{"name": 42.0}}))
	assert.Nil(t, model.UserName(map[string]any{"user": "Alice"}))
	assert.Nil(t, model.UserName(map[string]any{}))
	assert.Nil(t, model.UserName(nil))
}

// Package storagetest holds the behavioral suite every storage.Driver must
// pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Factory returns an initialized, empty driver for one subtest.
type Factory func(t *testing.T) storage.Driver

func ptr[T any](v T) *T { return &v }

var base = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func event(kind string, offset time.Duration, session, user *string, data map[string]any) model.Event {
	return model.NewEvent(model.EventInput{
		Event:     kind,
		Timestamp: base.Add(offset),
		ServerID:  ptr("srv-1"),
		Version:   ptr("1.2.3"),
		SessionID: session,
		UserID:    user,
		Data:      data,
	}, base.Add(offset+time.Second))
}

func insert(t *testing.T, d storage.Driver, e model.Event) int64 {
	t.Helper()
	id, err := d.Insert(context.Background(), e)
	require.NoError(t, err)
	return id
}

// Run executes the suite against drivers produced by newDriver.
func Run(t *testing.T, newDriver Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, d storage.Driver)
	}{
		{"InitIsIdempotent", testInitIdempotent},
		{"InsertAndGetRoundTrip", testInsertAndGet},
		{"GetMissing", testGetMissing},
		{"DeleteByID", testDeleteByID},
		{"IDsAreNotReused", testIDsNotReused},
		{"QueryFilters", testQueryFilters},
		{"QueryPagination", testQueryPagination},
		{"QueryOrdering", testQueryOrdering},
		{"QueryReadStability", testQueryReadStability},
		{"CountByEvent", testCountByEvent},
		{"Sessions", testSessions},
		{"SessionUserNameEdgeCases", testSessionUserNameEdgeCases},
		{"DeleteBySession", testDeleteBySession},
		{"DeleteAll", testDeleteAll},
		{"Activity", testActivity},
		{"SizeInfoAndPing", testSizeInfoAndPing},
		{"CancelledRead", testCancelledRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newDriver(t))
		})
	}
}

func testInitIdempotent(t *testing.T, d storage.Driver) {
	require.NoError(t, d.Init(context.Background()))
	require.NoError(t, d.Init(context.Background()))
}

func testInsertAndGet(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	data := map[string]any{
		"toolName": "q",
		"duration": json.Number("150"),
		"ratio":    json.Number("1.5"),
		"big":      json.Number("9007199254740993"),
		"nested":   map[string]any{"list": []any{json.Number("1"), "x", true, nil}},
	}
	e := event(model.EventToolCall, 30*time.Minute, ptr("s1"), ptr("u1"), data)
	id := insert(t, d, e)
	assert.Positive(t, id)

	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, model.EventToolCall, got.Event)
	assert.True(t, got.Timestamp.Equal(e.Timestamp), "timestamp %v != %v", got.Timestamp, e.Timestamp)
	assert.True(t, got.ReceivedAt.Equal(e.ReceivedAt))
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, e.ServerID, got.ServerID)
	assert.Equal(t, e.Version, got.Version)
	assert.Equal(t, e.SessionID, got.SessionID)
	assert.Equal(t, e.UserID, got.UserID)
	assert.Equal(t, data, got.Data)

	// Optional fields stay null and empty data round-trips as {}.
	bare := event(model.EventCustom, 0, nil, nil, nil)
	bare.ServerID, bare.Version = nil, nil
	id = insert(t, d, bare)
	got, err = d.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.ServerID)
	assert.Nil(t, got.Version)
	assert.Nil(t, got.SessionID)
	assert.Nil(t, got.UserID)
	assert.Equal(t, map[string]any{}, got.Data)
}

func testGetMissing(t *testing.T, d storage.Driver) {
	_, err := d.Get(context.Background(), 987654321)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteByID(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	id := insert(t, d, event(model.EventToolCall, 0, nil, nil, nil))

	ok, err := d.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = d.Get(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ok, err = d.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testIDsNotReused(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	first := insert(t, d, event(model.EventToolCall, 0, nil, nil, nil))
	second := insert(t, d, event(model.EventToolCall, 0, nil, nil, nil))
	assert.Greater(t, second, first)

	_, err := d.DeleteAll(ctx)
	require.NoError(t, err)

	third := insert(t, d, event(model.EventToolCall, 0, nil, nil, nil))
	assert.Greater(t, third, second)
}

func seedMixed(t *testing.T, d storage.Driver) {
	t.Helper()
	for i := range 3 {
		insert(t, d, event(model.EventToolCall, time.Duration(i)*time.Minute, ptr("s1"), nil, nil))
	}
	insert(t, d, event(model.EventToolError, 5*time.Minute, ptr("s1"), nil, nil))
	other := event(model.EventSessionStart, 6*time.Minute, ptr("s2"), nil, nil)
	other.ServerID = ptr("srv-2")
	insert(t, d, other)
	insert(t, d, event(model.EventCustom, 7*time.Minute, nil, nil, nil))
}

func testQueryFilters(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	seedMixed(t, d)

	cases := []struct {
		name string
		f    model.EventFilter
		want int
	}{
		{"no filter", model.EventFilter{}, 6},
		{"single kind", model.EventFilter{EventTypes: []string{model.EventToolCall}}, 3},
		{"many kinds", model.EventFilter{EventTypes: []string{model.EventToolCall, model.EventToolError}}, 4},
		{"unknown kind", model.EventFilter{EventTypes: []string{"nope"}}, 0},
		{"server", model.EventFilter{ServerID: ptr("srv-2")}, 1},
		{"session", model.EventFilter{SessionID: ptr("s1")}, 4},
		{"session and kind", model.EventFilter{SessionID: ptr("s1"), EventTypes: []string{model.EventToolError}}, 1},
		{"date range covering all", model.EventFilter{
			StartDate: ptr(time.Now().Add(-time.Hour)),
			EndDate:   ptr(time.Now().Add(time.Hour)),
		}, 6},
		{"date range in future", model.EventFilter{StartDate: ptr(time.Now().Add(time.Hour))}, 0},
		{"date range in past", model.EventFilter{EndDate: ptr(time.Now().Add(-time.Hour))}, 0},
	}
	for _, c := range cases {
		rows, total, err := d.Query(ctx, c.f)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, total, c.name)
		assert.Len(t, rows, c.want, c.name)

		n, err := d.Count(ctx, c.f)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.want, n, c.name)
	}
}

func testQueryPagination(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	seedMixed(t, d)

	rows, total, err := d.Query(ctx, model.EventFilter{Limit: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 6, total)

	rows, total, err = d.Query(ctx, model.EventFilter{Limit: ptr(4), Offset: 4})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 6, total)

	rows, _, err = d.Query(ctx, model.EventFilter{Limit: ptr(model.MaxQueryLimit * 10)})
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func testQueryOrdering(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	var ids []int64
	// Inserted with descending client timestamps.
	for i := range 4 {
		ids = append(ids, insert(t, d, event(model.EventToolCall, time.Duration(10-i)*time.Minute, nil, nil, nil)))
	}

	idsOf := func(rows []model.Event) []int64 {
		out := make([]int64, len(rows))
		for i, r := range rows {
			out[i] = r.ID
		}
		return out
	}

	rows, _, err := d.Query(ctx, model.EventFilter{OrderBy: "timestamp", Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[3], ids[2], ids[1], ids[0]}, idsOf(rows))

	rows, _, err = d.Query(ctx, model.EventFilter{OrderBy: "id", Order: "ASC"})
	require.NoError(t, err)
	assert.Equal(t, ids, idsOf(rows))

	// Unknown column and direction fall back to created_at DESC.
	for _, f := range []model.EventFilter{
		{OrderBy: "id;DROP"},
		{OrderBy: "id;DROP", Order: "sideways"},
		{},
	} {
		rows, _, err = d.Query(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, []int64{ids[3], ids[2], ids[1], ids[0]}, idsOf(rows), "%+v", f)
	}

	n, err := d.Count(ctx, model.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n, "table survives hostile order_by")
}

func testQueryReadStability(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	seedMixed(t, d)
	f := model.EventFilter{SessionID: ptr("s1"), Limit: ptr(2)}
	_, a, err := d.Query(ctx, f)
	require.NoError(t, err)
	_, b, err := d.Query(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func testCountByEvent(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	seedMixed(t, d)

	counts, err := d.CountByEvent(ctx, model.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []model.EventTypeCount{
		{Event: model.EventToolCall, Count: 3},
		{Event: model.EventCustom, Count: 1},
		{Event: model.EventSessionStart, Count: 1},
		{Event: model.EventToolError, Count: 1},
	}, counts)

	counts, err = d.CountByEvent(ctx, model.EventFilter{SessionID: ptr("s2"), Limit: ptr(0), OrderBy: "id"})
	require.NoError(t, err)
	assert.Equal(t, []model.EventTypeCount{{Event: model.EventSessionStart, Count: 1}}, counts)

	// Ingesting one more event of a kind raises its count by exactly one.
	insert(t, d, event(model.EventToolError, 0, nil, nil, nil))
	counts, err = d.CountByEvent(ctx, model.EventFilter{EventTypes: []string{model.EventToolError}})
	require.NoError(t, err)
	assert.Equal(t, []model.EventTypeCount{{Event: model.EventToolError, Count: 2}}, counts)

	empty, err := d.CountByEvent(ctx, model.EventFilter{EventTypes: []string{"nope"}})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func findSession(sessions []model.Session, id string) *model.Session {
	for i := range sessions {
		if sessions[i].SessionID == id {
			return &sessions[i]
		}
	}
	return nil
}

func testSessions(t *testing.T, d storage.Driver) {
	ctx := context.Background()

	insert(t, d, event(model.EventSessionStart, 0, ptr("s2"), ptr("u2"),
		map[string]any{"user": map[string]any{"name": "Alice"}}))
	insert(t, d, event(model.EventToolCall, 5*time.Minute, ptr("s2"), ptr("u2"), nil))
	insert(t, d, event(model.EventToolCall, time.Minute, ptr("s3"), nil, nil))
	insert(t, d, event(model.EventCustom, 0, nil, nil, nil))

	sessions, err := d.Sessions(ctx, model.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 2, "events without a session are not rolled up")

	s2 := findSession(sessions, "s2")
	require.NotNil(t, s2)
	assert.Equal(t, int64(2), s2.Count)
	assert.Equal(t, ptr("u2"), s2.UserID)
	assert.Equal(t, ptr("Alice"), s2.UserName)
	assert.False(t, s2.LastEvent.Before(s2.FirstEvent))

	s3 := findSession(sessions, "s3")
	require.NotNil(t, s3)
	assert.Equal(t, int64(1), s3.Count)
	assert.Nil(t, s3.UserID)
	assert.Nil(t, s3.UserName)

	// s3 was written last, so it leads.
	assert.Equal(t, "s3", sessions[0].SessionID)

	limited, err := d.Sessions(ctx, model.SessionFilter{Limit: ptr(1)})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	scoped, err := d.Sessions(ctx, model.SessionFilter{ServerID: ptr("missing")})
	require.NoError(t, err)
	assert.NotNil(t, scoped)
	assert.Empty(t, scoped)
}

func testSessionUserNameEdgeCases(t *testing.T, d storage.Driver) {
	ctx := context.Background()

	// Non-string name.
	insert(t, d, event(model.EventSessionStart, 0, ptr("numeric"), ptr("u"),
		map[string]any{"user": map[string]any{"name": 42.0}}))
	// Earliest event has no user; a later one does.
	insert(t, d, event(model.EventToolCall, 0, ptr("late-user"), nil, nil))
	insert(t, d, event(model.EventToolCall, time.Minute, ptr("late-user"), ptr("u9"), nil))
	// Two session_start events; the earliest by timestamp wins even if written second.
	insert(t, d, event(model.EventSessionStart, 10*time.Minute, ptr("two-starts"), nil,
		map[string]any{"user": map[string]any{"name": "Later"}}))
	insert(t, d, event(model.EventSessionStart, 0, ptr("two-starts"), nil,
		map[string]any{"user": map[string]any{"name": "Earlier"}}))

	sessions, err := d.Sessions(ctx, model.SessionFilter{})
	require.NoError(t, err)

	numeric := findSession(sessions, "numeric")
	require.NotNil(t, numeric)
	assert.Nil(t, numeric.UserName)
	assert.Equal(t, ptr("u"), numeric.UserID)

	late := findSession(sessions, "late-user")
	require.NotNil(t, late)
	assert.Nil(t, late.UserID)

	two := findSession(sessions, "two-starts")
	require.NotNil(t, two)
	assert.Equal(t, ptr("Earlier"), two.UserName)
}

func testDeleteBySession(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	insert(t, d, event(model.EventSessionStart, 0, ptr("s2"), ptr("u2"), nil))
	insert(t, d, event(model.EventToolCall, time.Minute, ptr("s2"), ptr("u2"), nil))
	insert(t, d, event(model.EventToolCall, time.Minute, ptr("keep"), nil, nil))

	n, err := d.DeleteBySession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = d.DeleteBySession(ctx, "s2")
	require.NoError(t, err)
	assert.Zero(t, n)

	sessions, err := d.Sessions(ctx, model.SessionFilter{})
	require.NoError(t, err)
	assert.Nil(t, findSession(sessions, "s2"))
	assert.NotNil(t, findSession(sessions, "keep"))
}

func testDeleteAll(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	seedMixed(t, d)

	n, err := d.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	total, err := d.Count(ctx, model.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	n, err = d.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testActivity(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	var ids []int64
	for i := range 5 {
		ids = append(ids, insert(t, d, event(model.EventToolCall, time.Duration(i)*time.Minute, ptr(fmt.Sprintf("s%d", i%2)), nil, nil)))
	}

	points, err := d.Activity(ctx, model.EventFilter{})
	require.NoError(t, err)
	require.Len(t, points, 5)
	for i, p := range points {
		assert.Equal(t, ids[i], p.ID)
		if i > 0 {
			assert.False(t, p.CreatedAt.Before(points[i-1].CreatedAt))
		}
	}

	capped, err := d.Activity(ctx, model.EventFilter{Limit: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[0], ids[1]}, []int64{capped[0].ID, capped[1].ID})

	scoped, err := d.Activity(ctx, model.EventFilter{SessionID: ptr("s1")})
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
}

func testSizeInfoAndPing(t *testing.T, d storage.Driver) {
	ctx := context.Background()
	require.NoError(t, d.Ping(ctx))
	insert(t, d, event(model.EventToolCall, 0, nil, nil, nil))
	info, err := d.SizeInfo(ctx)
	require.NoError(t, err)
	assert.Positive(t, info.Bytes)
}

func testCancelledRead(t *testing.T, d storage.Driver) {
	seedMixed(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := d.Query(ctx, model.EventFilter{})
	assert.Error(t, err)
}

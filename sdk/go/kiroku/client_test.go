package kiroku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates an httptest server that mimics the kiroku API. The
// auth endpoint is always registered unless overridden.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"token":     "test-token",
				"expiresAt": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		})
	}
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, baseURL, apiKey string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		ServerID: "srv-1",
		Version:  "1.2.3",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestNewClientGeneratesSessionID(t *testing.T) {
	a := newTestClient(t, "http://x", "")
	b := newTestClient(t, "http://x", "")
	assert.Len(t, a.SessionID(), 36)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestSendStampsDefaults(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got Event
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /telemetry": func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "receivedAt": received})
		},
	})
	c := newTestClient(t, srv.URL, "secret")

	at, err := c.Send(context.Background(), Event{Event: "tool_call", Data: map[string]any{"tool": "search"}})
	require.NoError(t, err)
	assert.True(t, at.Equal(received))

	assert.Equal(t, "tool_call", got.Event)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, c.SessionID(), got.SessionID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "search", got.Data["tool"])
}

func TestSendKeepsExplicitFields(t *testing.T) {
	var got Event
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /telemetry": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "receivedAt": time.Now()})
		},
	})
	c := newTestClient(t, srv.URL, "")

	_, err := c.Send(context.Background(), Event{Event: "e", ServerID: "other", SessionID: "s-9"})
	require.NoError(t, err)
	assert.Equal(t, "other", got.ServerID)
	assert.Equal(t, "s-9", got.SessionID)
}

func TestSendRequiresEventName(t *testing.T) {
	c := newTestClient(t, "http://unused", "")
	_, err := c.Send(context.Background(), Event{})
	assert.Error(t, err)
}

func TestSendValidationError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /telemetry": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":  "error",
				"message": "validation failed",
				"errors":  []map[string]string{{"field": "timestamp", "message": "is required"}},
			})
		},
	})
	c := newTestClient(t, srv.URL, "")

	_, err := c.Send(context.Background(), Event{Event: "e"})
	require.Error(t, err)
	assert.True(t, IsInvalid(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "validation failed", apiErr.Message)
	require.Len(t, apiErr.Fields, 1)
	assert.Equal(t, "timestamp", apiErr.Fields[0].Field)
}

func TestSendSaturated(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /telemetry": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "busy"})
		},
	})
	c := newTestClient(t, srv.URL, "")

	_, err := c.Send(context.Background(), Event{Event: "e"})
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRateLimited(err))
}

func TestEventsEncodesFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/events": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			q := r.URL.Query()
			assert.Equal(t, "10", q.Get("limit"))
			assert.Equal(t, "20", q.Get("offset"))
			assert.Equal(t, []string{"a", "b"}, q["eventType"])
			assert.Equal(t, "srv-1", q.Get("serverId"))
			assert.Equal(t, "2026-01-01T00:00:00Z", q.Get("startDate"))
			assert.Empty(t, q.Get("endDate"))
			assert.Equal(t, "asc", q.Get("order"))
			writeJSON(w, http.StatusOK, map[string]any{
				"events":  []map[string]any{{"id": 7, "event": "a", "data": map[string]any{}}},
				"total":   21,
				"limit":   10,
				"offset":  20,
				"hasMore": false,
			})
		},
	})
	c := newTestClient(t, srv.URL, "secret")

	page, err := c.Events(context.Background(), &Filter{
		Limit: 10, Offset: 20, EventTypes: []string{"a", "b"},
		ServerID: "srv-1", Start: start, Order: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, 21, page.Total)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(7), page.Events[0].ID)
}

func TestEventNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/events/{id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"status": "error", "code": "NOT_FOUND", "message": "event not found",
			})
		},
	})
	c := newTestClient(t, srv.URL, "secret")

	_, err := c.Event(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestDeleteSession(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"DELETE /api/events": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "s-1", r.URL.Query().Get("sessionId"))
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deletedCount": 4, "sessionId": "s-1"})
		},
	})
	c := newTestClient(t, srv.URL, "secret")

	n, err := c.DeleteSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = c.DeleteSession(context.Background(), "")
	assert.Error(t, err)
	_, err = c.DeleteSession(context.Background(), "   ")
	assert.Error(t, err, "blank id must not reach the server")
}

func TestTokenIsCached(t *testing.T) {
	var exchanges atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			exchanges.Add(1)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "secret", body["apiKey"])
			writeJSON(w, http.StatusOK, map[string]any{
				"token":     "tok",
				"expiresAt": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		},
		"GET /api/stats": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"total": 3})
		},
	})
	c := newTestClient(t, srv.URL, "secret")

	for range 3 {
		n, err := c.Count(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
	assert.Equal(t, int32(1), exchanges.Load())
}

func TestBadAPIKey(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"status": "error", "code": "UNAUTHORIZED", "message": "invalid credentials",
			})
		},
	})
	c := newTestClient(t, srv.URL, "wrong")

	_, err := c.DatabaseSize(context.Background())
	assert.True(t, IsUnauthorized(err))
}

func TestNoAPIKeySkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/sessions": func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, []map[string]any{{"session_id": "s", "count": 2}})
		},
	})
	c := newTestClient(t, srv.URL, "")

	sessions, err := c.Sessions(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(2), sessions[0].Count)
}

func TestHealthUnhealthy(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy"})
		},
	})
	c := newTestClient(t, srv.URL, "")

	_, err := c.Health(context.Background())
	assert.True(t, IsUnavailable(err))
}

func TestEncodeFilterEmpty(t *testing.T) {
	assert.Empty(t, encodeFilter(nil))
	assert.Empty(t, encodeFilter(&Filter{}))
}

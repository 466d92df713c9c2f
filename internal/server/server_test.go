package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/events"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

type testEnv struct {
	handler  http.Handler
	store    *events.Store
	pipeline *ingest.Pipeline
	db       *sqlite.DB
}

func newEnv(t *testing.T, adminKey string) *testEnv {
	t.Helper()
	db := testutil.NewSQLite(t)
	store := events.New(db, testutil.TestLogger())
	return newEnvWith(t, adminKey, db, store, ingest.New(store, testutil.TestLogger(), 64, 5*time.Second))
}

func newEnvWith(t *testing.T, adminKey string, db *sqlite.DB, store *events.Store, p *ingest.Pipeline) *testEnv {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour, nil)
	require.NoError(t, err)
	gate, err := auth.NewGate(adminKey, mgr, nil)
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Store:       store,
		Pipeline:    p,
		Gate:        gate,
		Logger:      testutil.TestLogger(),
		Version:     "test",
		Environment: "test",
		OpenAPISpec: []byte("openapi: 3.1.0\n"),
	})
	return &testEnv{handler: srv.Handler(), store: store, pipeline: p, db: db}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// ingest posts body and waits for the background write to finish.
func (e *testEnv) ingest(t *testing.T, body string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/telemetry", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	e.settle(t)
}

func (e *testEnv) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return e.pipeline.InFlight() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

const toolCall = `{"event":"tool_call","timestamp":"2025-01-15T10:30:00Z","sessionId":"s1","data":{"toolName":"q","duration":150}}`

func TestTelemetry_StoresCamelCase(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/telemetry", toolCall)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[model.IngestResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.ReceivedAt.IsZero())
	env.settle(t)

	rec = env.do(t, http.MethodGet, "/api/events?sessionId=s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.EventPage](t, rec)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "tool_call", page.Events[0].Event)
	assert.Equal(t, "q", page.Events[0].Data["toolName"])
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)
}

func TestTelemetry_SnakeCaseNormalizesIdentically(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, strings.Replace(toolCall, `"sessionId"`, `"session_id"`, 1))

	rec := env.do(t, http.MethodGet, "/api/events?session_id=s1", "")
	page := decode[model.EventPage](t, rec)
	require.Len(t, page.Events, 1)
	require.NotNil(t, page.Events[0].SessionID)
	assert.Equal(t, "s1", *page.Events[0].SessionID)
}

func TestTelemetry_SessionRollupAndDelete(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, `{"event":"session_start","timestamp":"2025-01-15T10:00:00Z","sessionId":"s2","userId":"u2","data":{"user":{"name":"Alice"}}}`)
	env.ingest(t, `{"event":"tool_call","timestamp":"2025-01-15T10:05:00Z","sessionId":"s2","userId":"u2","data":{}}`)

	rec := env.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]model.Session](t, rec)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].SessionID)
	assert.EqualValues(t, 2, sessions[0].Count)
	require.NotNil(t, sessions[0].UserID)
	assert.Equal(t, "u2", *sessions[0].UserID)
	require.NotNil(t, sessions[0].UserName)
	assert.Equal(t, "Alice", *sessions[0].UserName)

	rec = env.do(t, http.MethodDelete, "/api/events?sessionId=s2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	del := decode[model.DeleteResponse](t, rec)
	require.NotNil(t, del.DeletedCount)
	assert.EqualValues(t, 2, *del.DeletedCount)
	assert.Equal(t, "s2", del.SessionID)

	rec = env.do(t, http.MethodGet, "/api/sessions", "")
	assert.Empty(t, decode[[]model.Session](t, rec))
}

func TestTelemetry_ValidationErrors(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/telemetry", `{"event":"tool_call","data":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[model.IngestError](t, rec)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "Validation failed", resp.Message)
	fields := make([]string, 0, len(resp.Errors))
	for _, fe := range resp.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "timestamp")
}

func TestTelemetry_Malformed(t *testing.T) {
	env := newEnv(t, "")
	for _, body := range []string{`[1,2]`, `{"event":`, `null`, `"text"`} {
		rec := env.do(t, http.MethodPost, "/telemetry", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid telemetry data: expected JSON object", decode[model.IngestError](t, rec).Message)
	}
}

func TestTelemetry_PayloadTooLarge(t *testing.T) {
	env := newEnv(t, "")
	big := `{"event":"custom","timestamp":"2025-01-15T10:30:00Z","data":{"blob":"` +
		strings.Repeat("x", server.DefaultMaxPayloadBytes) + `"}}`

	rec := env.do(t, http.MethodPost, "/telemetry", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// blockingRecorder holds every write until release is closed.
type blockingRecorder struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingRecorder) Record(ctx context.Context, in model.EventInput, _ time.Time) (model.Event, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
	return model.Event{Event: in.Event}, nil
}

func (b *blockingRecorder) unblock() { b.once.Do(func() { close(b.release) }) }

func TestTelemetry_SaturatedReturns503(t *testing.T) {
	db := testutil.NewSQLite(t)
	store := events.New(db, testutil.TestLogger())
	rec := &blockingRecorder{release: make(chan struct{})}
	t.Cleanup(rec.unblock)
	env := newEnvWith(t, "", db, store, ingest.New(rec, testutil.TestLogger(), 1, 5*time.Second))

	first := env.do(t, http.MethodPost, "/telemetry", toolCall)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodPost, "/telemetry", toolCall)
	require.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Equal(t, "Ingestion queue is full", decode[model.IngestError](t, second).Message)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	rec.unblock()
	env.settle(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/telemetry", toolCall).Code)
	env.settle(t)
}

func TestEvents_UnknownOrderFallsBack(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, `{"event":"a","timestamp":"2025-01-15T10:00:00Z","data":{}}`)
	env.ingest(t, `{"event":"b","timestamp":"2025-01-15T09:00:00Z","data":{}}`)

	rec := env.do(t, http.MethodGet, "/api/events?orderBy=id;DROP%20TABLE%20telemetry_events&order=sideways", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.EventPage](t, rec)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "b", page.Events[0].Event, "newest created_at first")

	rec = env.do(t, http.MethodGet, "/api/events?orderBy=timestamp&order=asc", "")
	page = decode[model.EventPage](t, rec)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "b", page.Events[0].Event)
}

func TestEvents_FiltersAndPaging(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, `{"event":"tool_call","timestamp":"2025-01-15T10:00:00Z","serverId":"srv-1","data":{}}`)
	env.ingest(t, `{"event":"tool_error","timestamp":"2025-01-15T10:01:00Z","serverId":"srv-1","data":{}}`)
	env.ingest(t, `{"event":"custom","timestamp":"2025-01-15T10:02:00Z","serverId":"srv-2","data":{}}`)

	page := decode[model.EventPage](t, env.do(t, http.MethodGet, "/api/events?eventType=tool_call,tool_error", ""))
	assert.Equal(t, 2, page.Total)

	page = decode[model.EventPage](t, env.do(t, http.MethodGet, "/api/events?eventType=tool_call&eventType=custom", ""))
	assert.Equal(t, 2, page.Total)

	page = decode[model.EventPage](t, env.do(t, http.MethodGet, "/api/events?server_id=srv-1&limit=1", ""))
	assert.Len(t, page.Events, 1)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)

	page = decode[model.EventPage](t, env.do(t, http.MethodGet, "/api/events?limit=0", ""))
	assert.Empty(t, page.Events)
	assert.Equal(t, 3, page.Total)

	stats := decode[model.StatsResponse](t, env.do(t, http.MethodGet, "/api/stats?eventType=custom", ""))
	assert.Equal(t, 1, stats.Total)

	counts := decode[[]model.EventTypeCount](t, env.do(t, http.MethodGet, "/api/event-types?serverId=srv-1", ""))
	assert.Len(t, counts, 2)

	points := decode[[]model.ActivityPoint](t, env.do(t, http.MethodGet, "/api/activity", ""))
	require.Len(t, points, 3)
	assert.Equal(t, "tool_call", points[0].Event)
}

func TestEvents_GetAndDelete(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, toolCall)
	page := decode[model.EventPage](t, env.do(t, http.MethodGet, "/api/events", ""))
	require.Len(t, page.Events, 1)
	id := page.Events[0].ID
	path := "/api/events/" + itoa(id)

	rec := env.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.EventResponse](t, rec)
	assert.Equal(t, id, got.Event.ID)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/events/abc", "").Code)
}

func TestEvents_DeleteAll(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, toolCall)
	env.ingest(t, toolCall)

	rec := env.do(t, http.MethodDelete, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	del := decode[model.DeleteResponse](t, rec)
	require.NotNil(t, del.DeletedCount)
	assert.EqualValues(t, 2, *del.DeletedCount)
	assert.Empty(t, del.SessionID)
}

func TestEvents_DeleteWithBlankSessionIsRejected(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, toolCall)
	env.ingest(t, strings.Replace(toolCall, `"s1"`, `"s2"`, 1))

	for _, target := range []string{
		"/api/events?sessionId=",
		"/api/events?sessionId=%20%20",
		"/api/events?session_id=",
	} {
		rec := env.do(t, http.MethodDelete, target, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, model.ErrCodeInvalidInput, decode[model.APIError](t, rec).Code)
	}

	rec := env.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, 2, decode[model.StatsResponse](t, rec).Total)
}

func TestTelemetry_LargeIntegersRoundTrip(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, `{"event":"custom","timestamp":"2025-01-15T10:30:00Z","sessionId":"big","data":{"n":9007199254740993,"f":0.1}}`)

	rec := env.do(t, http.MethodGet, "/api/events?sessionId=big", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"n":9007199254740993`)
	assert.Contains(t, rec.Body.String(), `"f":0.1`)
}

func TestEvents_DateOnlyRangeCoversToday(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, toolCall)

	today := time.Now().UTC().Format("2006-01-02")
	rec := env.do(t, http.MethodGet, "/api/events?startDate="+today+"&endDate="+today, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[model.EventPage](t, rec).Events, 1)

	rec = env.do(t, http.MethodGet, "/api/sessions?endDate="+today, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"s1"`)
}

func TestEvents_BadDateIsInvalidInput(t *testing.T) {
	env := newEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/events?startDate=yesterday", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[model.APIError](t, rec)
	assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestDatabaseSize(t *testing.T) {
	env := newEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/database-size", "")
	require.Equal(t, http.StatusOK, rec.Code)
	size := decode[model.DatabaseSizeResponse](t, rec)
	assert.Positive(t, size.Size)
	assert.NotEmpty(t, size.SizeFormatted)
	assert.Nil(t, size.Percentage)
}

func TestAuth_OperatorRoutesRequireToken(t *testing.T) {
	env := newEnv(t, "op-key")

	rec := env.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, decode[model.APIError](t, rec).Code)

	// Ingestion and health stay open.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/telemetry", toolCall).Code)
	env.settle(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)

	rec = env.do(t, http.MethodPost, "/auth/token", `{"apiKey":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/token", `{"apiKey":"op-key"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[model.AuthTokenResponse](t, rec)
	require.NotEmpty(t, tok.Token)

	rec = env.do(t, http.MethodGet, "/api/events", "", "Authorization", "Bearer "+tok.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.EventPage](t, rec).Total)
}

func TestAuth_TokenDisabledWithoutKey(t *testing.T) {
	env := newEnv(t, "")
	rec := env.do(t, http.MethodPost, "/auth/token", `{"apiKey":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t, "")
	env.ingest(t, toolCall)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[model.HealthResponse](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "embedded", h.Database.Type)
	assert.Equal(t, "connected", h.Database.Status)
	assert.Equal(t, 1, h.Stats.TotalEvents)
	assert.EqualValues(t, 64, h.Ingest.Capacity)
	assert.Equal(t, "test", h.Environment)
	assert.NotZero(t, h.Memory.Sys)

	rec = env.do(t, http.MethodGet, "/health", "", "Accept", "text/plain")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealth_UnhealthyWhenStoreClosed(t *testing.T) {
	env := newEnv(t, "")
	require.NoError(t, env.db.Close())

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	h := decode[model.HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "disconnected", h.Database.Status)

	rec = env.do(t, http.MethodGet, "/health", "", "Accept", "text/plain")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", rec.Body.String())
}

func TestMiddleware_HeadersAndAuxRoutes(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/openapi.yaml", "", "X-Request-ID", "req-123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiroku_http_requests_total")
}

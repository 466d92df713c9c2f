package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "kiroku"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// No-op providers still hand out usable instruments.
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
	_, err = Meter("test").Int64Counter("noop")
	assert.NoError(t, err)
}

func TestMetricsHandler_ExposesCollectors(t *testing.T) {
	IngestEventsTotal.WithLabelValues(IngestAccepted).Inc()
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "kiroku_ingest_events_total")
	assert.Contains(t, body, `result="accepted"`)
	assert.Contains(t, body, "kiroku_http_requests_total")
}

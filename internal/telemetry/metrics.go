package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest results recorded on IngestEventsTotal.
const (
	IngestAccepted  = "accepted"
	IngestRejected  = "rejected"
	IngestSaturated = "saturated"
	IngestStored    = "stored"
	IngestFailed    = "failed"
)

var (
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroku_ingest_events_total",
			Help: "Telemetry events seen by the ingestion path, by outcome",
		},
		[]string{"result"},
	)

	IngestWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiroku_ingest_write_duration_seconds",
			Help:    "Duration of background event writes",
			Buckets: prometheus.DefBuckets,
		},
	)

	StorageQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiroku_storage_query_duration_seconds",
			Help:    "Duration of storage driver calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiroku_storage_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroku_storage_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiroku_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

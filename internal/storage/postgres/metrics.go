package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// RegisterPoolMetrics exposes pgxpool statistics as OTEL observable gauges.
// Call after telemetry.Init so the gauges bind to the real meter provider.
func (db *DB) RegisterPoolMetrics() error {
	meter := telemetry.Meter("kiroku/storage/postgres")

	total, err := meter.Int64ObservableGauge("kiroku.db.pool.total_conns",
		metric.WithDescription("Open connections in the pool"))
	if err != nil {
		return fmt.Errorf("storage: pool metrics: %w", err)
	}
	idle, err := meter.Int64ObservableGauge("kiroku.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	if err != nil {
		return fmt.Errorf("storage: pool metrics: %w", err)
	}
	acquired, err := meter.Int64ObservableGauge("kiroku.db.pool.acquired_conns",
		metric.WithDescription("Connections currently checked out"))
	if err != nil {
		return fmt.Errorf("storage: pool metrics: %w", err)
	}
	waits, err := meter.Int64ObservableCounter("kiroku.db.pool.empty_acquire_total",
		metric.WithDescription("Acquires that had to wait for a connection"))
	if err != nil {
		return fmt.Errorf("storage: pool metrics: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := db.pool.Stat()
		o.ObserveInt64(total, int64(s.TotalConns()))
		o.ObserveInt64(idle, int64(s.IdleConns()))
		o.ObserveInt64(acquired, int64(s.AcquiredConns()))
		o.ObserveInt64(waits, s.EmptyAcquireCount())
		return nil
	}, total, idle, acquired, waits)
	if err != nil {
		return fmt.Errorf("storage: pool metrics: %w", err)
	}
	return nil
}

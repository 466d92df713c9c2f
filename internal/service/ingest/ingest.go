// Package ingest is the bounded asynchronous write path for telemetry
// events. Handlers submit a normalized event and return immediately; the
// write runs on a detached context so a client disconnect cannot cancel it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// ErrSaturated is returned by Submit when every write slot is taken.
var ErrSaturated = errors.New("ingest: queue is full")

// ErrClosed is returned by Submit after Drain has started.
var ErrClosed = errors.New("ingest: pipeline is draining")

// Recorder persists one event.
type Recorder interface {
	Record(ctx context.Context, in model.EventInput, receivedAt time.Time) (model.Event, error)
}

// Pipeline runs event writes in the background with a fixed in-flight cap.
// Submissions beyond the cap are rejected, never queued or dropped.
type Pipeline struct {
	store        Recorder
	logger       *slog.Logger
	capacity     int64
	writeTimeout time.Duration

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	failed   atomic.Int64
	closed   atomic.Bool
}

// New creates a pipeline allowing capacity concurrent writes, each bounded
// by writeTimeout.
func New(store Recorder, logger *slog.Logger, capacity int, writeTimeout time.Duration) *Pipeline {
	if capacity <= 0 {
		capacity = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{
		store:        store,
		logger:       logger,
		capacity:     int64(capacity),
		writeTimeout: writeTimeout,
		sem:          semaphore.NewWeighted(int64(capacity)),
	}
	p.registerMetrics()
	return p
}

// Submit schedules a write of in. It returns ErrSaturated without blocking
// when the pipeline is full.
func (p *Pipeline) Submit(in model.EventInput, receivedAt time.Time) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.sem.TryAcquire(1) {
		telemetry.IngestEventsTotal.WithLabelValues(telemetry.IngestSaturated).Inc()
		return ErrSaturated
	}
	p.inFlight.Add(1)
	telemetry.IngestEventsTotal.WithLabelValues(telemetry.IngestAccepted).Inc()

	go p.write(in, receivedAt)
	return nil
}

func (p *Pipeline) write(in model.EventInput, receivedAt time.Time) {
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.write")
	span.SetAttributes(attribute.String("event", in.Event))
	defer span.End()

	start := time.Now()
	e, err := p.store.Record(ctx, in, receivedAt)
	telemetry.IngestWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.failed.Add(1)
		telemetry.IngestEventsTotal.WithLabelValues(telemetry.IngestFailed).Inc()
		span.RecordError(err)
		p.logger.Error("ingest: failed to store event",
			"error", err,
			"event", in.Event,
			"session_id", deref(in.SessionID),
		)
		return
	}
	telemetry.IngestEventsTotal.WithLabelValues(telemetry.IngestStored).Inc()
	p.logger.Debug("ingest: event stored", "id", e.ID, "event", e.Event)
}

// Drain stops accepting submissions and waits for in-flight writes. The
// ctx deadline bounds the wait.
func (p *Pipeline) Drain(ctx context.Context) error {
	p.closed.Store(true)
	if err := p.sem.Acquire(ctx, p.capacity); err != nil {
		p.logger.Warn("ingest: drain timed out", "in_flight", p.InFlight())
		return fmt.Errorf("ingest: drain: %w", err)
	}
	p.sem.Release(p.capacity)
	p.logger.Info("ingest: drained", "failed_total", p.Failed())
	return nil
}

// InFlight returns the number of writes currently running.
func (p *Pipeline) InFlight() int64 { return p.inFlight.Load() }

// Capacity returns the in-flight cap.
func (p *Pipeline) Capacity() int64 { return p.capacity }

// Failed returns the number of writes that returned an error. A non-zero
// value means events were accepted but not stored.
func (p *Pipeline) Failed() int64 { return p.failed.Load() }

func (p *Pipeline) registerMetrics() {
	meter := telemetry.Meter("kiroku/ingest")

	_, _ = meter.Int64ObservableGauge("kiroku.ingest.in_flight",
		metric.WithDescription("Event writes currently running"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.InFlight())
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("kiroku.ingest.failed_total",
		metric.WithDescription("Accepted events whose write failed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.Failed())
			return nil
		}),
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

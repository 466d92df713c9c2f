package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// BreakerConfig tunes the circuit breaker around a Driver.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
}

// Guarded decorates a Driver with a circuit breaker. While the circuit is
// open every call fails fast with ErrUnavailable. Not-found results and
// caller cancellations do not count as failures.
type Guarded struct {
	Driver
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	logger *slog.Logger
}

// NewGuarded wraps d. Init, Kind and Close bypass the breaker.
func NewGuarded(d Driver, cfg BreakerConfig, logger *slog.Logger) *Guarded {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	name := "storage-" + d.Kind()
	telemetry.BreakerState.WithLabelValues(name).Set(0)

	g := &Guarded{Driver: d, name: name, logger: logger}
	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage: circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			telemetry.BreakerState.WithLabelValues(name).Set(stateValue(to))
			telemetry.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return g
}

// State reports the breaker state for health output.
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// guard runs fn through the breaker and records its duration.
func guard[T any](g *Guarded, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	telemetry.StorageQueryDuration.WithLabelValues(op, g.Driver.Kind()).Observe(time.Since(start).Seconds())

	var zero T
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("storage: breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func (g *Guarded) Insert(ctx context.Context, e model.Event) (int64, error) {
	return guard(g, "insert", func() (int64, error) { return g.Driver.Insert(ctx, e) })
}

func (g *Guarded) Get(ctx context.Context, id int64) (model.Event, error) {
	return guard(g, "get", func() (model.Event, error) { return g.Driver.Get(ctx, id) })
}

func (g *Guarded) Delete(ctx context.Context, id int64) (bool, error) {
	return guard(g, "delete", func() (bool, error) { return g.Driver.Delete(ctx, id) })
}

func (g *Guarded) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	return guard(g, "delete_by_session", func() (int64, error) { return g.Driver.DeleteBySession(ctx, sessionID) })
}

func (g *Guarded) DeleteAll(ctx context.Context) (int64, error) {
	return guard(g, "delete_all", func() (int64, error) { return g.Driver.DeleteAll(ctx) })
}

type page struct {
	rows  []model.Event
	total int
}

func (g *Guarded) Query(ctx context.Context, f model.EventFilter) ([]model.Event, int, error) {
	p, err := guard(g, "query", func() (page, error) {
		rows, total, err := g.Driver.Query(ctx, f)
		return page{rows: rows, total: total}, err
	})
	return p.rows, p.total, err
}

func (g *Guarded) Count(ctx context.Context, f model.EventFilter) (int, error) {
	return guard(g, "count", func() (int, error) { return g.Driver.Count(ctx, f) })
}

func (g *Guarded) CountByEvent(ctx context.Context, f model.EventFilter) ([]model.EventTypeCount, error) {
	return guard(g, "count_by_event", func() ([]model.EventTypeCount, error) { return g.Driver.CountByEvent(ctx, f) })
}

func (g *Guarded) Sessions(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	return guard(g, "sessions", func() ([]model.Session, error) { return g.Driver.Sessions(ctx, f) })
}

func (g *Guarded) Activity(ctx context.Context, f model.EventFilter) ([]model.ActivityPoint, error) {
	return guard(g, "activity", func() ([]model.ActivityPoint, error) { return g.Driver.Activity(ctx, f) })
}

func (g *Guarded) SizeInfo(ctx context.Context) (model.SizeInfo, error) {
	return guard(g, "size_info", func() (model.SizeInfo, error) { return g.Driver.SizeInfo(ctx) })
}

func (g *Guarded) Ping(ctx context.Context) error {
	_, err := guard(g, "ping", func() (struct{}, error) { return struct{}{}, g.Driver.Ping(ctx) })
	return err
}

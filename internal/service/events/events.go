// Package events is the read and delete side of the telemetry store plus
// the single write entry point used by the ingest pipeline. It sits between
// the HTTP and MCP surfaces and a storage.Driver.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// sizeProbeTimeout bounds the shared size lookup. It is detached from the
// caller so one cancelled request cannot fail every waiter.
const sizeProbeTimeout = 5 * time.Second

// Store wraps a Driver with the derived views the API exposes.
type Store struct {
	driver storage.Driver
	logger *slog.Logger

	sizeGroup singleflight.Group
}

// New creates a Store over d.
func New(d storage.Driver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{driver: d, logger: logger}
}

// Kind reports the backend kind for health output.
func (s *Store) Kind() string { return s.driver.Kind() }

// Ping probes the backend.
func (s *Store) Ping(ctx context.Context) error { return s.driver.Ping(ctx) }

// Record persists one normalized event received at receivedAt and returns
// the stored row as the driver numbered it.
func (s *Store) Record(ctx context.Context, in model.EventInput, receivedAt time.Time) (model.Event, error) {
	e := model.NewEvent(in, receivedAt)
	e.CreatedAt = time.Now().UTC()
	id, err := s.driver.Insert(ctx, e)
	if err != nil {
		return model.Event{}, fmt.Errorf("events: record %s: %w", in.Event, err)
	}
	e.ID = id
	return e, nil
}

// Get returns storage.ErrNotFound when id does not exist.
func (s *Store) Get(ctx context.Context, id int64) (model.Event, error) {
	return s.driver.Get(ctx, id)
}

// Delete removes one event and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	return s.driver.Delete(ctx, id)
}

// DeleteBySession removes every event of one session.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.driver.DeleteBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("events: session deleted", "session_id", sessionID, "deleted", n)
	return n, nil
}

// DeleteAll empties the store.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.driver.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("events: all events deleted", "deleted", n)
	return n, nil
}

// Query returns one page of events plus paging metadata.
func (s *Store) Query(ctx context.Context, f model.EventFilter) (model.EventPage, error) {
	rows, total, err := s.driver.Query(ctx, f)
	if err != nil {
		return model.EventPage{}, err
	}
	return model.NewEventPage(rows, total, f.EffectiveLimit(), f.EffectiveOffset()), nil
}

// Count returns the number of events matching f. Paging fields are ignored.
func (s *Store) Count(ctx context.Context, f model.EventFilter) (int, error) {
	return s.driver.Count(ctx, f)
}

// CountByEvent returns per-kind totals, most frequent first.
func (s *Store) CountByEvent(ctx context.Context, f model.EventFilter) ([]model.EventTypeCount, error) {
	return s.driver.CountByEvent(ctx, f)
}

// Sessions returns the session rollup, most recently active first.
func (s *Store) Sessions(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	return s.driver.Sessions(ctx, f)
}

// Activity returns lightweight rows in ascending creation order.
func (s *Store) Activity(ctx context.Context, f model.EventFilter) ([]model.ActivityPoint, error) {
	return s.driver.Activity(ctx, f)
}

// DatabaseSize reports the backend footprint. Concurrent callers share one
// lookup.
func (s *Store) DatabaseSize(ctx context.Context) (model.DatabaseSizeResponse, error) {
	ch := s.sizeGroup.DoChan("size", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sizeProbeTimeout)
		defer cancel()
		return s.driver.SizeInfo(probeCtx)
	})

	select {
	case <-ctx.Done():
		return model.DatabaseSizeResponse{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.DatabaseSizeResponse{}, res.Err
		}
		return SizeReport(res.Val.(model.SizeInfo)), nil
	}
}

// SizeReport formats raw size info for the API.
func SizeReport(info model.SizeInfo) model.DatabaseSizeResponse {
	out := model.DatabaseSizeResponse{
		Size:          info.Bytes,
		SizeFormatted: humanize.IBytes(uint64(max(info.Bytes, 0))),
	}
	if info.Limit != nil && *info.Limit > 0 {
		limit := *info.Limit
		pct := math.Round(float64(info.Bytes)/float64(limit)*10000) / 100
		out.MaxSize = &limit
		out.Percentage = &pct
	}
	return out
}

// Package storage defines the persistence contract for telemetry events and
// the pieces shared by its backends: SQL composition with per-dialect
// placeholders, JSON payload encoding, the migration runner, and a
// circuit-breaking decorator.
//
// Backends live in the sqlite (embedded, single writer) and postgres
// (networked pool, JSONB) subpackages.
package storage

import (
	"context"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Backend kinds, as named by DB_TYPE.
const (
	KindEmbedded     = "embedded"
	KindNetworkedSQL = "networked-sql"
)

// TableName is the single table holding telemetry rows.
const TableName = "telemetry_events"

// Driver is the contract every backend satisfies. All methods honor ctx
// cancellation; a cancelled read returns ctx.Err() wrapped.
type Driver interface {
	// Init creates tables and indexes if absent. Safe to call repeatedly.
	Init(ctx context.Context) error

	// Insert appends one event and returns its id.
	Insert(ctx context.Context, e model.Event) (int64, error)
	// Get returns ErrNotFound when id does not exist.
	Get(ctx context.Context, id int64) (model.Event, error)

	Delete(ctx context.Context, id int64) (bool, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)

	// Query returns the filtered page and the total matching rows.
	Query(ctx context.Context, f model.EventFilter) ([]model.Event, int, error)
	Count(ctx context.Context, f model.EventFilter) (int, error)
	CountByEvent(ctx context.Context, f model.EventFilter) ([]model.EventTypeCount, error)
	Sessions(ctx context.Context, f model.SessionFilter) ([]model.Session, error)
	Activity(ctx context.Context, f model.EventFilter) ([]model.ActivityPoint, error)
	SizeInfo(ctx context.Context) (model.SizeInfo, error)

	Ping(ctx context.Context) error
	Kind() string
	Close() error
}

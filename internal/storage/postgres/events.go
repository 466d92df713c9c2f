package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const insertEventSQL = `INSERT INTO telemetry_events
	(event, timestamp, server_id, version, session_id, user_id, data, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

// Insert appends one row. created_at comes from the column default.
func (db *DB) Insert(ctx context.Context, e model.Event) (int64, error) {
	data, err := storage.EncodeData(e.Data)
	if err != nil {
		return 0, err
	}
	args := storage.InsertEventArgs(storage.Postgres, e, data)

	var id int64
	err = withRetry(ctx, maxWriteRetries, baseRetryDelay, func() error {
		return db.pool.QueryRow(ctx, insertEventSQL, args...).Scan(&id)
	})
	if err != nil {
		return 0, wrap("insert event", err)
	}
	return id, nil
}

// Get returns storage.ErrNotFound when id does not exist.
func (db *DB) Get(ctx context.Context, id int64) (model.Event, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+storage.EventColumns+` FROM telemetry_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Event{}, wrap("get event", err)
	}
	return e, nil
}

// Delete removes one row and reports whether it existed.
func (db *DB) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM telemetry_events WHERE id = $1`, id)
	if err != nil {
		return false, wrap("delete event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteBySession removes every row carrying sessionID.
func (db *DB) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM telemetry_events WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, wrap("delete session", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll empties the table. The id sequence is not reset.
func (db *DB) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM telemetry_events`)
	if err != nil {
		return 0, wrap("delete all", err)
	}
	return tag.RowsAffected(), nil
}

// Query returns the requested page and the unpaginated total.
func (db *DB) Query(ctx context.Context, f model.EventFilter) ([]model.Event, int, error) {
	total, err := db.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	q, args := storage.SelectEventsSQL(storage.Postgres, f)
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, wrap("query events", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, 0, wrap("scan events", err)
	}
	return events, total, nil
}

// Count returns the number of rows matching f.
func (db *DB) Count(ctx context.Context, f model.EventFilter) (int, error) {
	q, args := storage.CountEventsSQL(storage.Postgres, f)
	var total int
	if err := db.pool.QueryRow(ctx, q, args...).Scan(&total); err != nil {
		return 0, wrap("count events", err)
	}
	return total, nil
}

// CountByEvent returns per-kind counts, most frequent first.
func (db *DB) CountByEvent(ctx context.Context, f model.EventFilter) ([]model.EventTypeCount, error) {
	q, args := storage.CountByEventSQL(storage.Postgres, f)
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("count by event", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EventTypeCount, error) {
		var c model.EventTypeCount
		err := row.Scan(&c.Event, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, wrap("scan event counts", err)
	}
	if counts == nil {
		counts = []model.EventTypeCount{}
	}
	return counts, nil
}

// Activity returns lightweight rows ascending by created_at.
func (db *DB) Activity(ctx context.Context, f model.EventFilter) ([]model.ActivityPoint, error) {
	q, args := storage.ActivitySQL(storage.Postgres, f)
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("activity", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ActivityPoint, error) {
		var p model.ActivityPoint
		if err := row.Scan(&p.ID, &p.Event, &p.Timestamp, &p.CreatedAt, &p.ServerID, &p.SessionID); err != nil {
			return p, err
		}
		p.Timestamp = p.Timestamp.UTC()
		p.CreatedAt = p.CreatedAt.UTC()
		return p, nil
	})
	if err != nil {
		return nil, wrap("scan activity", err)
	}
	if points == nil {
		points = []model.ActivityPoint{}
	}
	return points, nil
}

// Sessions returns the session rollup ordered by last activity.
func (db *DB) Sessions(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	q, args := storage.SessionsSQL(storage.Postgres, f)
	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("sessions", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Session, error) {
		var (
			s        model.Session
			startRaw *string
		)
		if err := row.Scan(&s.SessionID, &s.Count, &s.FirstEvent, &s.LastEvent, &s.UserID, &startRaw); err != nil {
			return s, err
		}
		s.FirstEvent = s.FirstEvent.UTC()
		s.LastEvent = s.LastEvent.UTC()
		s.UserName = storage.DecodeUserName(startRaw)
		return s, nil
	})
	if err != nil {
		return nil, wrap("scan sessions", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e    model.Event
		data []byte
		ts   time.Time
	)
	err := row.Scan(&e.ID, &e.Event, &ts, &e.ServerID, &e.Version, &e.SessionID, &e.UserID,
		&data, &e.ReceivedAt, &e.CreatedAt)
	if err != nil {
		return model.Event{}, err
	}
	e.Timestamp = ts.UTC()
	e.ReceivedAt = e.ReceivedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Data, err = storage.DecodeData(data); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

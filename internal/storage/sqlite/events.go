package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const insertEventSQL = `INSERT INTO telemetry_events
	(event, timestamp, server_id, version, session_id, user_id, data, received_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert appends one row on the writer connection.
func (db *DB) Insert(ctx context.Context, e model.Event) (int64, error) {
	data, err := storage.EncodeData(e.Data)
	if err != nil {
		return 0, err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	args := append(storage.InsertEventArgs(storage.SQLite, e, string(data)), storage.FormatSQLiteTime(createdAt))

	res, err := db.writer.ExecContext(ctx, insertEventSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: sqlite: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: sqlite: insert event id: %w", err)
	}
	return id, nil
}

// Get returns storage.ErrNotFound when id does not exist.
func (db *DB) Get(ctx context.Context, id int64) (model.Event, error) {
	row := db.reader.QueryRowContext(ctx,
		`SELECT `+storage.EventColumns+` FROM telemetry_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("storage: sqlite: get event %d: %w", id, err)
	}
	return e, nil
}

// Delete removes one row and reports whether it existed.
func (db *DB) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := db.exec(ctx, "delete event", `DELETE FROM telemetry_events WHERE id = ?`, id)
	return n > 0, err
}

// DeleteBySession removes every row carrying sessionID.
func (db *DB) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	return db.exec(ctx, "delete session", `DELETE FROM telemetry_events WHERE session_id = ?`, sessionID)
}

// DeleteAll empties the table. AUTOINCREMENT keeps ids from being reused.
func (db *DB) DeleteAll(ctx context.Context) (int64, error) {
	return db.exec(ctx, "delete all", `DELETE FROM telemetry_events`)
}

func (db *DB) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := db.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: sqlite: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: sqlite: %s: rows affected: %w", op, err)
	}
	return n, nil
}

// Query returns the requested page and the unpaginated total.
func (db *DB) Query(ctx context.Context, f model.EventFilter) ([]model.Event, int, error) {
	total, err := db.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}

	q, args := storage.SelectEventsSQL(storage.SQLite, f)
	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: sqlite: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: sqlite: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: sqlite: query events: %w", err)
	}
	return events, total, nil
}

// Count returns the number of rows matching f.
func (db *DB) Count(ctx context.Context, f model.EventFilter) (int, error) {
	q, args := storage.CountEventsSQL(storage.SQLite, f)
	var total int
	if err := db.reader.QueryRowContext(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("storage: sqlite: count events: %w", err)
	}
	return total, nil
}

// CountByEvent returns per-kind counts, most frequent first.
func (db *DB) CountByEvent(ctx context.Context, f model.EventFilter) ([]model.EventTypeCount, error) {
	q, args := storage.CountByEventSQL(storage.SQLite, f)
	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite: count by event: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := []model.EventTypeCount{}
	for rows.Next() {
		var c model.EventTypeCount
		if err := rows.Scan(&c.Event, &c.Count); err != nil {
			return nil, fmt.Errorf("storage: sqlite: scan event count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Activity returns lightweight rows ascending by created_at.
func (db *DB) Activity(ctx context.Context, f model.EventFilter) ([]model.ActivityPoint, error) {
	q, args := storage.ActivitySQL(storage.SQLite, f)
	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite: activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	points := []model.ActivityPoint{}
	for rows.Next() {
		var (
			p                 model.ActivityPoint
			ts, created       string
			server, sessionID sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Event, &ts, &created, &server, &sessionID); err != nil {
			return nil, fmt.Errorf("storage: sqlite: scan activity: %w", err)
		}
		if p.Timestamp, err = storage.ParseSQLiteTime(ts); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = storage.ParseSQLiteTime(created); err != nil {
			return nil, err
		}
		p.ServerID = nullable(server)
		p.SessionID = nullable(sessionID)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Sessions returns the session rollup ordered by last activity.
func (db *DB) Sessions(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	q, args := storage.SessionsSQL(storage.SQLite, f)
	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite: sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []model.Session{}
	for rows.Next() {
		var (
			s                model.Session
			first, last      string
			userID, startRaw sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Count, &first, &last, &userID, &startRaw); err != nil {
			return nil, fmt.Errorf("storage: sqlite: scan session: %w", err)
		}
		if s.FirstEvent, err = storage.ParseSQLiteTime(first); err != nil {
			return nil, err
		}
		if s.LastEvent, err = storage.ParseSQLiteTime(last); err != nil {
			return nil, err
		}
		s.UserID = nullable(userID)
		s.UserName = storage.DecodeUserName(nullable(startRaw))
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		e                             model.Event
		ts, received, created, data   string
		server, version, sess, userID sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Event, &ts, &server, &version, &sess, &userID, &data, &received, &created); err != nil {
		return model.Event{}, err
	}
	var err error
	if e.Timestamp, err = storage.ParseSQLiteTime(ts); err != nil {
		return model.Event{}, err
	}
	if e.ReceivedAt, err = storage.ParseSQLiteTime(received); err != nil {
		return model.Event{}, err
	}
	if e.CreatedAt, err = storage.ParseSQLiteTime(created); err != nil {
		return model.Event{}, err
	}
	if e.Data, err = storage.DecodeData([]byte(data)); err != nil {
		return model.Event{}, err
	}
	e.ServerID = nullable(server)
	e.Version = nullable(version)
	e.SessionID = nullable(sess)
	e.UserID = nullable(userID)
	return e, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Dialect selects placeholder syntax and column encodings.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// SQLiteTimeLayout is the fixed-width UTC form used for TEXT time columns.
// Lexical order equals chronological order.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatSQLiteTime renders t in SQLiteTimeLayout.
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeLayout)
}

// ParseSQLiteTime is the inverse of FormatSQLiteTime. It also accepts
// RFC 3339 so rows written by other tools still decode.
func ParseSQLiteTime(s string) (time.Time, error) {
	if t, err := time.Parse(SQLiteTimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (d Dialect) timeArg(t time.Time) any {
	if d == SQLite {
		return FormatSQLiteTime(t)
	}
	return t
}

// dataText renders the payload column as text for Go-side decoding.
func (d Dialect) dataText(col string) string {
	if d == SQLite {
		return col
	}
	return col + "::text"
}

// EventColumns is the select list shared by Get and Query.
const EventColumns = "id, event, timestamp, server_id, version, session_id, user_id, data, received_at, created_at"

// ActivityColumns is the select list for activity points.
const ActivityColumns = "id, event, timestamp, created_at, server_id, session_id"

// argList accumulates bound parameters and hands out placeholders.
type argList struct {
	d    Dialect
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return a.d.placeholder(len(a.args))
}

// buildEventWhere converts the filter's predicates into a WHERE clause.
// Pagination and ordering fields are ignored here.
func buildEventWhere(a *argList, f model.EventFilter) string {
	var conditions []string

	switch len(f.EventTypes) {
	case 0:
	case 1:
		conditions = append(conditions, "event = "+a.add(f.EventTypes[0]))
	default:
		ph := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			ph[i] = a.add(et)
		}
		conditions = append(conditions, "event IN ("+strings.Join(ph, ", ")+")")
	}
	if f.ServerID != nil {
		conditions = append(conditions, "server_id = "+a.add(*f.ServerID))
	}
	if f.SessionID != nil {
		conditions = append(conditions, "session_id = "+a.add(*f.SessionID))
	}
	if f.StartDate != nil {
		conditions = append(conditions, "created_at >= "+a.add(a.d.timeArg(*f.StartDate)))
	}
	if f.EndDate != nil {
		conditions = append(conditions, "created_at <= "+a.add(a.d.timeArg(*f.EndDate)))
	}

	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// orderClause renders the whitelisted ORDER BY. id breaks ties in the same
// direction so pages are stable.
func orderClause(f model.EventFilter) string {
	col, dir := f.SortColumn(), f.SortDirection()
	if col == "id" {
		return " ORDER BY id " + dir
	}
	return " ORDER BY " + col + " " + dir + ", id " + dir
}

// SelectEventsSQL returns the page query for f.
func SelectEventsSQL(d Dialect, f model.EventFilter) (string, []any) {
	a := &argList{d: d}
	q := "SELECT " + EventColumns + " FROM " + TableName + buildEventWhere(a, f) + orderClause(f)
	q += " LIMIT " + a.add(f.EffectiveLimit()) + " OFFSET " + a.add(f.EffectiveOffset())
	return q, a.args
}

// CountEventsSQL returns the total for f without pagination.
func CountEventsSQL(d Dialect, f model.EventFilter) (string, []any) {
	a := &argList{d: d}
	return "SELECT COUNT(*) FROM " + TableName + buildEventWhere(a, f), a.args
}

// CountByEventSQL groups the filtered scope by kind, most frequent first.
func CountByEventSQL(d Dialect, f model.EventFilter) (string, []any) {
	a := &argList{d: d}
	q := "SELECT event, COUNT(*) AS cnt FROM " + TableName + buildEventWhere(a, f) +
		" GROUP BY event ORDER BY cnt DESC, event ASC"
	return q, a.args
}

// ActivitySQL returns lightweight rows ascending by created_at.
func ActivitySQL(d Dialect, f model.EventFilter) (string, []any) {
	a := &argList{d: d}
	q := "SELECT " + ActivityColumns + " FROM " + TableName + buildEventWhere(a, f) +
		" ORDER BY created_at ASC, id ASC LIMIT " + a.add(model.ClampLimit(f.Limit, model.DefaultActivityLimit))
	return q, a.args
}

// SessionsSQL returns the session rollup. Columns: session_id, count,
// first_event, last_event, user_id, start_data (payload text of the earliest
// session_start, or NULL).
func SessionsSQL(d Dialect, f model.SessionFilter) (string, []any) {
	a := &argList{d: d}
	// Placeholders are bound in text order for the positional dialect.
	startKind := a.add(model.EventSessionStart)
	conditions := []string{"session_id IS NOT NULL"}
	if f.ServerID != nil {
		conditions = append(conditions, "server_id = "+a.add(*f.ServerID))
	}
	if f.StartDate != nil {
		conditions = append(conditions, "created_at >= "+a.add(d.timeArg(*f.StartDate)))
	}
	if f.EndDate != nil {
		conditions = append(conditions, "created_at <= "+a.add(d.timeArg(*f.EndDate)))
	}

	q := `SELECT g.session_id, g.cnt, g.first_event, g.last_event,
	(SELECT u.user_id FROM ` + TableName + ` u
	  WHERE u.session_id = g.session_id
	  ORDER BY u.timestamp ASC, u.id ASC LIMIT 1) AS user_id,
	(SELECT ` + d.dataText("s.data") + ` FROM ` + TableName + ` s
	  WHERE s.session_id = g.session_id AND s.event = ` + startKind + `
	  ORDER BY s.timestamp ASC, s.id ASC LIMIT 1) AS start_data
FROM (
	SELECT session_id, COUNT(*) AS cnt, MIN(created_at) AS first_event, MAX(created_at) AS last_event
	FROM ` + TableName + `
	WHERE ` + strings.Join(conditions, " AND ") + `
	GROUP BY session_id
) g
ORDER BY g.last_event DESC, g.session_id ASC
LIMIT ` + a.add(model.ClampLimit(f.Limit, model.DefaultSessionLimit))
	return q, a.args
}

// InsertEventArgs returns the bound values for an insert, in the order
// event, timestamp, server_id, version, session_id, user_id, data,
// received_at. data is passed through as-is; the caller encodes it.
func InsertEventArgs(d Dialect, e model.Event, data any) []any {
	return []any{
		e.Event,
		d.timeArg(e.Timestamp),
		e.ServerID,
		e.Version,
		e.SessionID,
		e.UserID,
		data,
		d.timeArg(e.ReceivedAt),
	}
}

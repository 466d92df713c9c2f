package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// paramError is a query string problem the caller can fix.
type paramError struct {
	param string
	msg   string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.param, e.msg)
}

// first returns the first non-empty value among the given keys. Keys are
// listed camelCase first so that camelCase wins when both are present.
func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func optString(q url.Values, keys ...string) *string {
	v := first(q, keys...)
	if v == "" {
		return nil
	}
	return &v
}

func optInt(q url.Values, keys ...string) (*int, error) {
	raw := first(q, keys...)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &paramError{param: keys[0], msg: "must be an integer"}
	}
	return &n, nil
}

const dateOnlyLayout = "2006-01-02"

// dateLayouts are tried in order. Date-only values are read as UTC midnight.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", dateOnlyLayout}

// lastMicrosecond moves UTC midnight to the last instant of that day at the
// microsecond precision both backends store.
const lastMicrosecond = 24*time.Hour - time.Microsecond

func optTime(q url.Values, keys ...string) (*time.Time, error) {
	t, _, err := parseTime(q, keys...)
	return t, err
}

// optEndTime is optTime for inclusive upper bounds: a date-only value
// covers the whole day.
func optEndTime(q url.Values, keys ...string) (*time.Time, error) {
	t, dateOnly, err := parseTime(q, keys...)
	if t != nil && dateOnly {
		end := t.Add(lastMicrosecond)
		t = &end
	}
	return t, err
}

func parseTime(q url.Values, keys ...string) (*time.Time, bool, error) {
	raw := first(q, keys...)
	if raw == "" {
		return nil, false, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, layout == dateOnlyLayout, nil
		}
	}
	return nil, false, &paramError{param: keys[0], msg: "must be an RFC 3339 date-time"}
}

// eventTypes collects eventType values given as repeated keys, comma
// separated lists, or both. Duplicates and blanks are dropped.
func eventTypes(q url.Values) []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range []string{"eventType", "event_type"} {
		for _, v := range q[key] {
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if part == "" || seen[part] {
					continue
				}
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}

// parseEventFilter reads the shared event filter from a query string.
func parseEventFilter(q url.Values) (model.EventFilter, error) {
	var (
		f   model.EventFilter
		err error
	)
	if f.Limit, err = optInt(q, "limit"); err != nil {
		return f, err
	}
	offset, err := optInt(q, "offset")
	if err != nil {
		return f, err
	}
	if offset != nil {
		f.Offset = *offset
	}
	if f.StartDate, err = optTime(q, "startDate", "start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = optEndTime(q, "endDate", "end_date"); err != nil {
		return f, err
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return f, &paramError{param: "endDate", msg: "must not be before startDate"}
	}
	f.EventTypes = eventTypes(q)
	f.ServerID = optString(q, "serverId", "server_id")
	f.SessionID = optString(q, "sessionId", "session_id")
	f.OrderBy = first(q, "orderBy", "order_by")
	f.Order = first(q, "order")
	return f, nil
}

// parseSessionFilter reads the session rollup filter.
func parseSessionFilter(q url.Values) (model.SessionFilter, error) {
	var (
		f   model.SessionFilter
		err error
	)
	if f.Limit, err = optInt(q, "limit"); err != nil {
		return f, err
	}
	if f.StartDate, err = optTime(q, "startDate", "start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = optEndTime(q, "endDate", "end_date"); err != nil {
		return f, err
	}
	f.ServerID = optString(q, "serverId", "server_id")
	return f, nil
}

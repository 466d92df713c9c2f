package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Tool result limits are tighter than the HTTP API's: results land in a
// model context window.
const (
	defaultToolLimit = 20
	maxToolLimit     = 200
)

func (s *Server) registerTools() {
	readOnly := []mcplib.ToolOption{
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithIdempotentHintAnnotation(true),
		mcplib.WithOpenWorldHintAnnotation(false),
	}
	filterArgs := []mcplib.ToolOption{
		mcplib.WithString("event_types",
			mcplib.Description("Comma-separated event kinds, e.g. tool_call,tool_error"),
		),
		mcplib.WithString("server_id", mcplib.Description("Only events from this MCP server instance")),
		mcplib.WithString("session_id", mcplib.Description("Only events from this session")),
		mcplib.WithString("start_date", mcplib.Description("RFC 3339 lower bound on created_at (inclusive)")),
		mcplib.WithString("end_date", mcplib.Description("RFC 3339 upper bound on created_at (inclusive)")),
	}

	// kiroku_query_events: filtered page of raw events.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_query_events", withOptions(
			[]mcplib.ToolOption{
				mcplib.WithDescription(`Read raw telemetry events, newest first by default.

WHEN TO USE: to inspect what a server or session actually did, e.g. the tool
calls leading up to an error. Use kiroku_event_types first if you only need counts.

Large data payloads are truncated in the output.`),
				mcplib.WithNumber("limit",
					mcplib.Description("Maximum events to return"),
					mcplib.Min(1),
					mcplib.Max(maxToolLimit),
					mcplib.DefaultNumber(defaultToolLimit),
				),
				mcplib.WithNumber("offset", mcplib.Description("Events to skip"), mcplib.Min(0)),
				mcplib.WithString("order_by",
					mcplib.Description("Sort column"),
					mcplib.Enum("id", "event", "timestamp", "created_at", "server_id"),
				),
				mcplib.WithString("order", mcplib.Description("Sort direction"), mcplib.Enum("asc", "desc")),
			},
			readOnly, filterArgs,
		)...),
		s.handleQueryEvents,
	)

	// kiroku_event_types: per-kind counts.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_event_types", withOptions(
			[]mcplib.ToolOption{
				mcplib.WithDescription("Count events per kind, most frequent first. Accepts the same filters as kiroku_query_events."),
			},
			readOnly, filterArgs,
		)...),
		s.handleEventTypes,
	)

	// kiroku_sessions: session rollup.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_sessions", withOptions(
			[]mcplib.ToolOption{
				mcplib.WithDescription(`List sessions with event counts, first and last activity, and the user
who started them. Most recently active first.`),
				mcplib.WithNumber("limit",
					mcplib.Description("Maximum sessions to return"),
					mcplib.Min(1),
					mcplib.Max(maxToolLimit),
					mcplib.DefaultNumber(defaultToolLimit),
				),
				mcplib.WithString("server_id", mcplib.Description("Only sessions with events from this server")),
				mcplib.WithString("start_date", mcplib.Description("RFC 3339 lower bound on created_at")),
				mcplib.WithString("end_date", mcplib.Description("RFC 3339 upper bound on created_at")),
			},
			readOnly,
		)...),
		s.handleSessions,
	)

	// kiroku_database_size: storage footprint.
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_database_size", withOptions(
			[]mcplib.ToolOption{
				mcplib.WithDescription("Report how much space the telemetry store uses and, when configured, how close it is to its limit."),
			},
			readOnly,
		)...),
		s.handleDatabaseSize,
	)
}

func withOptions(groups ...[]mcplib.ToolOption) []mcplib.ToolOption {
	var out []mcplib.ToolOption
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func (s *Server) handleQueryEvents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f, err := filterFromRequest(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	limit := clampToolLimit(request.GetInt("limit", defaultToolLimit))
	f.Limit = &limit
	f.Offset = max(request.GetInt("offset", 0), 0)
	f.OrderBy = request.GetString("order_by", "")
	f.Order = request.GetString("order", "")

	page, err := s.store.Query(ctx, f)
	if err != nil {
		return s.storeError("query events", err), nil
	}
	return jsonResult(map[string]any{
		"events":   compactEvents(page.Events),
		"total":    page.Total,
		"has_more": page.HasMore,
	})
}

func (s *Server) handleEventTypes(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f, err := filterFromRequest(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	counts, err := s.store.CountByEvent(ctx, f)
	if err != nil {
		return s.storeError("count by event", err), nil
	}
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return jsonResult(map[string]any{
		"event_types": counts,
		"total":       total,
	})
}

func (s *Server) handleSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var (
		f   model.SessionFilter
		err error
	)
	limit := clampToolLimit(request.GetInt("limit", defaultToolLimit))
	f.Limit = &limit
	if v := request.GetString("server_id", ""); v != "" {
		f.ServerID = &v
	}
	if f.StartDate, err = toolTime(request, "start_date"); err != nil {
		return errorResult(err.Error()), nil
	}
	if f.EndDate, err = toolTime(request, "end_date"); err != nil {
		return errorResult(err.Error()), nil
	}

	sessions, err := s.store.Sessions(ctx, f)
	if err != nil {
		return s.storeError("sessions", err), nil
	}
	return jsonResult(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleDatabaseSize(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	size, err := s.store.DatabaseSize(ctx)
	if err != nil {
		return s.storeError("database size", err), nil
	}
	return jsonResult(size)
}

// storeError logs the cause and returns a tool error without internals.
func (s *Server) storeError(op string, err error) *mcplib.CallToolResult {
	if errors.Is(err, storage.ErrUnavailable) {
		return errorResult("telemetry store is temporarily unavailable")
	}
	s.logger.Error("mcp: tool failed", "op", op, "error", err)
	return errorResult(op + " failed")
}

func filterFromRequest(request mcplib.CallToolRequest) (model.EventFilter, error) {
	var (
		f   model.EventFilter
		err error
	)
	for _, part := range strings.Split(request.GetString("event_types", ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			f.EventTypes = append(f.EventTypes, part)
		}
	}
	if v := request.GetString("server_id", ""); v != "" {
		f.ServerID = &v
	}
	if v := request.GetString("session_id", ""); v != "" {
		f.SessionID = &v
	}
	if f.StartDate, err = toolTime(request, "start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = toolTime(request, "end_date"); err != nil {
		return f, err
	}
	return f, nil
}

func toolTime(request mcplib.CallToolRequest, key string) (*time.Time, error) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 date-time, got %q", key, raw)
	}
	t = t.UTC()
	return &t, nil
}

func clampToolLimit(n int) int {
	switch {
	case n < 1:
		return defaultToolLimit
	case n > maxToolLimit:
		return maxToolLimit
	default:
		return n
	}
}

package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/model"
)

const (
	uriRecentEvents   = "kiroku://events/recent"
	uriRecentSessions = "kiroku://sessions/recent"
	sessionURIPrefix  = "kiroku://session/"
	sessionURISuffix  = "/events"
)

func (s *Server) registerResources() {
	// kiroku://events/recent: the newest events across the fleet.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRecentEvents,
			"Recent Events",
			mcplib.WithResourceDescription("The 50 most recently stored telemetry events"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentEvents,
	)

	// kiroku://sessions/recent: most recently active sessions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRecentSessions,
			"Recent Sessions",
			mcplib.WithResourceDescription("Session rollups ordered by last activity"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentSessions,
	)

	// kiroku://session/{id}/events: one session in chronological order.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			sessionURIPrefix+"{id}"+sessionURISuffix,
			"Session Events",
			mcplib.WithTemplateDescription("All events of one session, oldest first"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleSessionEvents,
	)
}

func (s *Server) handleRecentEvents(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	limit := model.DefaultEventLimit
	page, err := s.store.Query(ctx, model.EventFilter{Limit: &limit})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent events: %w", err)
	}
	return jsonContents(uriRecentEvents, compactEvents(page.Events))
}

func (s *Server) handleRecentSessions(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	limit := defaultToolLimit
	sessions, err := s.store.Sessions(ctx, model.SessionFilter{Limit: &limit})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent sessions: %w", err)
	}
	return jsonContents(uriRecentSessions, sessions)
}

func (s *Server) handleSessionEvents(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	sessionID, err := parseSessionURI(uri)
	if err != nil {
		return nil, err
	}

	limit := maxToolLimit
	page, err := s.store.Query(ctx, model.EventFilter{
		Limit:     &limit,
		SessionID: &sessionID,
		OrderBy:   "timestamp",
		Order:     "ASC",
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: session events: %w", err)
	}
	return jsonContents(uri, map[string]any{
		"session_id": sessionID,
		"total":      page.Total,
		"events":     compactEvents(page.Events),
	})
}

// parseSessionURI extracts the session id from kiroku://session/{id}/events.
// The id may be percent-encoded.
func parseSessionURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, sessionURIPrefix) || !strings.HasSuffix(uri, sessionURISuffix) ||
		len(uri) < len(sessionURIPrefix)+len(sessionURISuffix) {
		return "", fmt.Errorf("mcp: invalid session URI: %s", uri)
	}
	raw := uri[len(sessionURIPrefix) : len(uri)-len(sessionURISuffix)]
	if raw == "" {
		return "", fmt.Errorf("mcp: invalid session URI: empty session id")
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid session URI: %w", err)
	}
	return id, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

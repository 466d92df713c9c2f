package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// investigate-session: walk through one session's events.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-session",
			mcplib.WithPromptDescription("Reconstruct what happened in one MCP session"),
			mcplib.WithArgument("session_id",
				mcplib.ArgumentDescription("The session to investigate"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleInvestigateSessionPrompt,
	)

	// fleet-health: summarize error rates across servers.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("fleet-health",
			mcplib.WithPromptDescription("Summarize tool usage and error rates across the fleet"),
			mcplib.WithArgument("since",
				mcplib.ArgumentDescription("Optional RFC 3339 start of the window"),
			),
		),
		s.handleFleetHealthPrompt,
	)
}

func (s *Server) handleInvestigateSessionPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	sessionID := request.Params.Arguments["session_id"]
	if sessionID == "" {
		return nil, fmt.Errorf("session_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Investigate session %s", sessionID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Investigate MCP session %q:

1. CALL kiroku_event_types with session_id=%q to see what kinds of events it produced.

2. CALL kiroku_query_events with session_id=%q, order_by="timestamp", order="asc"
   to read the events in the order the client emitted them.

3. REPORT:
   - who started the session (session_start data.user) and when
   - which tools were called and how long they took
   - any tool_error or error events, with the tool call that preceded each
   - whether the session ended cleanly (session_end present)`, sessionID, sessionID, sessionID),
				},
			},
		},
	}, nil
}

func (s *Server) handleFleetHealthPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	window := "all stored events"
	dateArg := ""
	if since := request.Params.Arguments["since"]; since != "" {
		window = "events since " + since
		dateArg = fmt.Sprintf(" with start_date=%q", since)
	}

	return &mcplib.GetPromptResult{
		Description: "Summarize fleet health",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Summarize the health of the MCP fleet over %s:

1. CALL kiroku_event_types%s for overall volume by kind.
2. CALL kiroku_query_events%s and event_types="tool_error,error" to sample failures.
3. CALL kiroku_sessions%s to see how many sessions were active.

Report the error ratio (tool_error / tool_call), the servers with the most
failures, and anything unusual.`, window, dateArg, dateArg, dateArg),
				},
			},
		},
	}, nil
}

package mcp

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/ashita-ai/kiroku/internal/model"
)

// maxCompactData bounds the serialized payload carried per event in tool
// output. Larger payloads are replaced by a truncated string.
const maxCompactData = 1024

// compactEvent returns a minimal representation of an event for MCP
// responses. Nil optional fields and received_at are dropped.
func compactEvent(e model.Event) map[string]any {
	m := map[string]any{
		"id":         e.ID,
		"event":      e.Event,
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ServerID != nil {
		m["server_id"] = *e.ServerID
	}
	if e.SessionID != nil {
		m["session_id"] = *e.SessionID
	}
	if e.UserID != nil {
		m["user_id"] = *e.UserID
	}
	if e.Version != nil {
		m["version"] = *e.Version
	}
	if len(e.Data) > 0 {
		m["data"] = compactData(e.Data)
	}
	return m
}

func compactData(data map[string]any) any {
	raw, err := json.Marshal(data)
	if err != nil || len(raw) <= maxCompactData {
		return data
	}
	return truncateString(string(raw), maxCompactData)
}

func compactEvents(events []model.Event) []map[string]any {
	out := make([]map[string]any, len(events))
	for i, e := range events {
		out[i] = compactEvent(e)
	}
	return out
}

// truncateString cuts s to at most n bytes without splitting a rune and
// appends "..." when anything was dropped.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !runeStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func runeStart(b byte) bool { return b&0xC0 != 0x80 }

package payload

import (
	"fmt"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Normalize reduces a validated body to its canonical record. camelCase keys
// win over snake_case when both are present.
func Normalize(body map[string]any) (model.EventInput, error) {
	event, _ := body["event"].(string)
	rawTS, _ := body["timestamp"].(string)
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		return model.EventInput{}, fmt.Errorf("payload: parse timestamp: %w", err)
	}

	data, ok := body["data"].(map[string]any)
	if !ok {
		data = map[string]any{}
	}

	return model.EventInput{
		Event:     event,
		Timestamp: ts,
		ServerID:  firstString(body, "serverId", "server_id"),
		Version:   firstString(body, "version"),
		SessionID: ResolveSessionID(body),
		UserID:    firstString(body, "userId", "user_id"),
		Data:      data,
	}, nil
}

// ResolveSessionID probes the known session locations at the top level and
// then under data. The first non-empty string wins.
func ResolveSessionID(body map[string]any) *string {
	if s := sessionIn(body); s != nil {
		return s
	}
	if data, ok := body["data"].(map[string]any); ok {
		return sessionIn(data)
	}
	return nil
}

func sessionIn(m map[string]any) *string {
	if s := firstString(m, "sessionId", "session_id"); s != nil {
		return s
	}
	switch sess := m["session"].(type) {
	case string:
		if sess != "" {
			return &sess
		}
	case map[string]any:
		return firstString(sess, "id", "sessionId", "session_id")
	}
	return nil
}

// firstString returns the first key holding a non-empty string.
func firstString(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

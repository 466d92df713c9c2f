package kiroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the kiroku server (e.g. "http://localhost:3000").
	BaseURL string

	// APIKey is the admin key used to obtain an operator token. It is only
	// needed for the read and delete methods. Leave it empty when the server
	// runs with authentication disabled.
	APIKey string

	// ServerID, Version and SessionID are stamped on every sent event that
	// does not carry its own. SessionID defaults to a random UUID.
	ServerID  string
	Version   string
	SessionID string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 10 seconds.
	Timeout time.Duration
}

// Client talks to one kiroku server. All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	serverID  string
	version   string
	sessionID string
	client    *http.Client
	tokenMgr  *tokenManager
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kiroku: BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c := &Client{
		baseURL:   baseURL,
		serverID:  cfg.ServerID,
		version:   cfg.Version,
		sessionID: sessionID,
		client:    httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// SessionID returns the session stamped on events sent by this client.
func (c *Client) SessionID() string { return c.sessionID }

// Send submits one event and returns the server's receipt time. A zero
// Timestamp is replaced with the current time.
func (c *Client) Send(ctx context.Context, e Event) (time.Time, error) {
	if e.Event == "" {
		return time.Time{}, fmt.Errorf("kiroku: event name is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ServerID == "" {
		e.ServerID = c.serverID
	}
	if e.Version == "" {
		e.Version = c.version
	}
	if e.SessionID == "" {
		e.SessionID = c.sessionID
	}

	var resp ingestResponse
	if err := c.send(ctx, http.MethodPost, "/telemetry", e, &resp, false); err != nil {
		return time.Time{}, err
	}
	return resp.ReceivedAt, nil
}

// Events returns one page of stored events.
func (c *Client) Events(ctx context.Context, f *Filter) (*EventPage, error) {
	var page EventPage
	if err := c.send(ctx, http.MethodGet, "/api/events"+encodeFilter(f), nil, &page, true); err != nil {
		return nil, err
	}
	return &page, nil
}

// Event fetches one stored event by id.
func (c *Client) Event(ctx context.Context, id int64) (*StoredEvent, error) {
	var resp eventResponse
	if err := c.send(ctx, http.MethodGet, "/api/events/"+strconv.FormatInt(id, 10), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp.Event, nil
}

// DeleteEvent removes one event. A missing id is reported via IsNotFound.
func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	return c.send(ctx, http.MethodDelete, "/api/events/"+strconv.FormatInt(id, 10), nil, nil, true)
}

// DeleteSession removes every event in a session and returns the count.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, fmt.Errorf("kiroku: session id is required")
	}
	var resp deleteResponse
	path := "/api/events?" + url.Values{"sessionId": {sessionID}}.Encode()
	if err := c.send(ctx, http.MethodDelete, path, nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// DeleteAll removes every stored event and returns the count.
func (c *Client) DeleteAll(ctx context.Context) (int64, error) {
	var resp deleteResponse
	if err := c.send(ctx, http.MethodDelete, "/api/events", nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// Count returns the number of events matching f. Paging fields are ignored.
func (c *Client) Count(ctx context.Context, f *Filter) (int, error) {
	var resp statsResponse
	if err := c.send(ctx, http.MethodGet, "/api/stats"+encodeFilter(f), nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// EventTypes returns per-kind counts, most frequent first.
func (c *Client) EventTypes(ctx context.Context, f *Filter) ([]EventTypeCount, error) {
	var out []EventTypeCount
	if err := c.send(ctx, http.MethodGet, "/api/event-types"+encodeFilter(f), nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Sessions returns the session rollup ordered by last activity.
func (c *Client) Sessions(ctx context.Context, f *Filter) ([]Session, error) {
	var out []Session
	if err := c.send(ctx, http.MethodGet, "/api/sessions"+encodeFilter(f), nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Activity returns lightweight rows ascending by creation time.
func (c *Client) Activity(ctx context.Context, f *Filter) ([]ActivityPoint, error) {
	var out []ActivityPoint
	if err := c.send(ctx, http.MethodGet, "/api/activity"+encodeFilter(f), nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// DatabaseSize reports the storage footprint.
func (c *Client) DatabaseSize(ctx context.Context) (*DatabaseSize, error) {
	var out DatabaseSize
	if err := c.send(ctx, http.MethodGet, "/api/database-size", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes the server. An unhealthy server yields an *Error with
// status 503.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.send(ctx, http.MethodGet, "/health", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func encodeFilter(f *Filter) string {
	if f == nil {
		return ""
	}
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	for _, t := range f.EventTypes {
		q.Add("eventType", t)
	}
	if f.ServerID != "" {
		q.Set("serverId", f.ServerID)
	}
	if f.SessionID != "" {
		q.Set("sessionId", f.SessionID)
	}
	if !f.Start.IsZero() {
		q.Set("startDate", f.Start.UTC().Format(time.RFC3339Nano))
	}
	if !f.End.IsZero() {
		q.Set("endDate", f.End.UTC().Format(time.RFC3339Nano))
	}
	if f.OrderBy != "" {
		q.Set("orderBy", f.OrderBy)
	}
	if f.Order != "" {
		q.Set("order", f.Order)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// errorBody covers both server error shapes: operator endpoints send code,
// ingestion sends a field list.
type errorBody struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any, operator bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("kiroku: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("kiroku: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if operator && c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kiroku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiroku: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, raw)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("kiroku: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, raw []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		apiErr.Fields = body.Errors
	} else {
		apiErr.Message = string(raw)
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(statusCode)
	}
	return apiErr
}

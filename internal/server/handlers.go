package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/events"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store           *events.Store
	pipeline        *ingest.Pipeline
	gate            *auth.Gate
	logger          *slog.Logger
	version         string
	environment     string
	maxPayloadBytes int64
	openapiSpec     []byte
	startedAt       time.Time
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Store           *events.Store
	Pipeline        *ingest.Pipeline
	Gate            *auth.Gate
	Logger          *slog.Logger
	Version         string
	Environment     string
	MaxPayloadBytes int64
	OpenAPISpec     []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBytes := d.MaxPayloadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	return &Handlers{
		store:           d.Store,
		pipeline:        d.Pipeline,
		gate:            d.Gate,
		logger:          d.Logger,
		version:         d.Version,
		environment:     d.Environment,
		maxPayloadBytes: maxBytes,
		openapiSpec:     d.OpenAPISpec,
		startedAt:       time.Now(),
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	var req model.AuthTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if h.gate == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	token, expiresAt, err := h.gate.Exchange(req.APIKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
	case errors.Is(err, auth.ErrDisabled):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.logger.Warn("auth: token exchange rejected",
			"remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
	default:
		h.logger.Error("auth: token exchange failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// HandleHealth handles GET /health. Clients asking for text/plain get a
// one-word body suited to load balancer probes.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health: storage probe failed", "error", err)
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	if wantsText(r) {
		body := "ok"
		if httpStatus != http.StatusOK {
			body = "unhealthy"
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(httpStatus)
		_, _ = w.Write([]byte(body))
		return
	}

	var totalEvents int
	if httpStatus == http.StatusOK {
		n, err := h.store.Count(r.Context(), model.EventFilter{})
		if err != nil {
			h.logger.Warn("health: count failed", "error", err)
		}
		totalEvents = n
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := model.HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startedAt).Seconds(),
		Version:     h.version,
		Environment: h.environment,
		Memory: model.HealthMemory{
			Alloc:     mem.Alloc,
			Sys:       mem.Sys,
			HeapInuse: mem.HeapInuse,
		},
		Database: model.HealthDatabase{Type: h.store.Kind(), Status: dbStatus},
		Stats:    model.HealthStats{TotalEvents: totalEvents},
	}
	if h.pipeline != nil {
		resp.Ingest = model.HealthIngest{
			InFlight: h.pipeline.InFlight(),
			Capacity: h.pipeline.Capacity(),
		}
	}
	writeJSON(w, httpStatus, resp)
}

func wantsText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// Package server is the HTTP surface: unauthenticated ingestion and health,
// and the operator query API behind the auth gate.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/service/events"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// DefaultMaxPayloadBytes caps POST /telemetry bodies when no limit is configured.
const DefaultMaxPayloadBytes = 256 << 10

// Server is the kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter, MCPServer and OpenAPISpec are optional.
type ServerConfig struct {
	Store    *events.Store
	Pipeline *ingest.Pipeline
	Gate     *auth.Gate
	Logger   *slog.Logger

	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Version         string
	Environment     string
	MaxPayloadBytes int64
	OpenAPISpec     []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	h := NewHandlers(HandlersDeps{
		Store:           cfg.Store,
		Pipeline:        cfg.Pipeline,
		Gate:            cfg.Gate,
		Logger:          cfg.Logger,
		Version:         cfg.Version,
		Environment:     cfg.Environment,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		OpenAPISpec:     cfg.OpenAPISpec,
	})

	ipRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, cfg.Logger)
	operator := func(next http.HandlerFunc) http.Handler {
		return requireOperator(cfg.Gate, next)
	}

	mux := http.NewServeMux()

	// Ingestion and token exchange (no auth, rate limited by IP).
	mux.Handle("POST /telemetry", ipRL(http.HandlerFunc(h.HandleTelemetry)))
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))

	// Operator query API.
	mux.Handle("GET /api/events", operator(h.HandleListEvents))
	mux.Handle("GET /api/events/{id}", operator(h.HandleGetEvent))
	mux.Handle("DELETE /api/events/{id}", operator(h.HandleDeleteEvent))
	mux.Handle("DELETE /api/events", operator(h.HandleDeleteEvents))
	mux.Handle("GET /api/stats", operator(h.HandleStats))
	mux.Handle("GET /api/event-types", operator(h.HandleEventTypes))
	mux.Handle("GET /api/sessions", operator(h.HandleSessions))
	mux.Handle("GET /api/activity", operator(h.HandleActivity))
	mux.Handle("GET /api/database-size", operator(h.HandleDatabaseSize))

	// MCP StreamableHTTP transport (operator auth).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", requireOperator(cfg.Gate, mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Health, metrics and the OpenAPI document (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	// Operator auth is applied per route above.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(mux, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Package kiroku is the public API for embedding the kiroku telemetry server.
//
//	app, err := kiroku.New(
//	    kiroku.WithVersion(version),
//	    kiroku.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// kiroku (root) imports internal/*, but internal/* never imports kiroku.
package kiroku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kiroku/api"
	"github.com/ashita-ai/kiroku/internal/auth"
	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/mcp"
	"github.com/ashita-ai/kiroku/internal/ratelimit"
	"github.com/ashita-ai/kiroku/internal/server"
	"github.com/ashita-ai/kiroku/internal/service/events"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/storage/postgres"
	"github.com/ashita-ai/kiroku/internal/storage/sqlite"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// App is the kiroku server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	driver       storage.Driver
	srv          *server.Server
	pipeline     *ingest.Pipeline
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens and initializes the storage backend, and
// wires every subsystem. It does not accept connections; call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Read()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	version := o.version
	if version == "" {
		version = "dev"
	}
	logger.Info("kiroku starting",
		"version", version,
		"addr", cfg.Addr(),
		"db_type", cfg.Database.Type,
		"environment", cfg.Environment,
	)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Version:     version,
		Environment: cfg.Environment,
		Insecure:    cfg.OTEL.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	driver, err := openDriver(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := driver.Init(ctx); err != nil {
		_ = driver.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage init: %w", err)
	}
	guarded := storage.NewGuarded(driver, storage.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	}, logger)

	store := events.New(guarded, logger)
	pipeline := ingest.New(store, logger, cfg.Ingest.MaxInFlight, cfg.Ingest.WriteTimeout)

	jwtMgr, err := auth.NewJWTManager(cfg.Auth.JWTPrivateKeyPath, cfg.Auth.JWTPublicKeyPath, cfg.Auth.JWTExpiration, logger)
	if err != nil {
		_ = driver.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}
	gate, err := auth.NewGate(cfg.Auth.AdminAPIKey, jwtMgr, logger)
	if err != nil {
		_ = driver.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !gate.Enabled() && cfg.IsProduction() {
		logger.Error("ADMIN_API_KEY is empty in production; operator API is open to anyone who can reach it")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(store, logger, version)

	srv := server.New(server.ServerConfig{
		Store:           store,
		Pipeline:        pipeline,
		Gate:            gate,
		Logger:          logger,
		Limiter:         limiter,
		MCPServer:       mcpSrv.MCPServer(),
		Addr:            cfg.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		Version:         version,
		Environment:     cfg.Environment,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes,
		OpenAPISpec:     api.OpenAPISpec,
	})

	return &App{
		cfg:          cfg,
		driver:       driver,
		srv:          srv,
		pipeline:     pipeline,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// openDriver connects the backend named by DB_TYPE.
func openDriver(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Driver, error) {
	switch cfg.Database.Type {
	case config.DBTypeNetworkedSQL:
		db, err := postgres.New(ctx, postgres.Config{
			DSN:                cfg.Database.URL,
			MaxConns:           cfg.Database.PoolMaxConns,
			TLS:                cfg.Database.SSL,
			InsecureSkipVerify: cfg.Database.SSLInsecureSkipVerify,
			MaxSizeBytes:       cfg.Database.MaxSizeBytes,
			Logger:             logger,
		})
		if err != nil {
			return nil, err
		}
		if err := db.RegisterPoolMetrics(); err != nil {
			logger.Warn("pool metrics unavailable", "error", err)
		}
		return db, nil
	default:
		return sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.Database.Path,
			MaxSizeBytes: cfg.Database.MaxSizeBytes,
			Logger:       logger,
		})
	}
}

// Handler returns the root HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. On return Shutdown has already been called.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a two-phase graceful shutdown:
// (1) stop accepting HTTP requests and finish in-flight ones,
// (2) wait for accepted ingest writes to reach storage.
// It then closes the storage backend and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kiroku shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.Shutdown.HTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: ingest drain.
	drainCtx, drainCancel := contextWithOptionalTimeout(ctx, a.cfg.Shutdown.DrainTimeout)
	drainErr := a.pipeline.Drain(drainCtx)
	drainCancel()
	if drainErr != nil {
		a.logger.Error("ingest drain incomplete; accepted events may be lost",
			"error", drainErr,
			"in_flight", a.pipeline.InFlight(),
			"configured_timeout", a.cfg.Shutdown.DrainTimeout,
		)
	}

	// Cleanup.
	_ = a.limiter.Close()
	closeErr := a.driver.Close()
	if closeErr != nil {
		a.logger.Error("storage close error", "error", closeErr)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kiroku stopped", "ingest_failed_total", a.pipeline.Failed())
	return errors.Join(drainErr, closeErr)
}

// contextWithOptionalTimeout applies d when positive; zero means wait for
// ctx alone.
func contextWithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

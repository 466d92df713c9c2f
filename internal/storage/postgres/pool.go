// Package postgres is the networked-sql storage backend. Payloads live in a
// JSONB column; connections come from a pgxpool sized by configuration.
package postgres

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/migrations"
)

// Config holds the parameters for connecting to Postgres.
type Config struct {
	DSN string
	// MaxConns sizes the pool. Zero keeps the pgxpool default.
	MaxConns int32
	// TLS enables an explicit TLS config on every connection, overriding
	// any sslmode in the DSN.
	TLS bool
	// InsecureSkipVerify disables server certificate verification when TLS
	// is on. Off by default.
	InsecureSkipVerify bool
	// MaxSizeBytes is the advertised size limit; zero means none.
	MaxSizeBytes int64
	Logger       *slog.Logger
}

// DB wraps a pgxpool.Pool and implements storage.Driver.
type DB struct {
	pool    *pgxpool.Pool
	maxSize int64
	logger  *slog.Logger
}

var _ storage.Driver = (*DB)(nil)

// New creates a pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.TLS {
		poolCfg.ConnConfig.TLSConfig = &tls.Config{
			ServerName:         poolCfg.ConnConfig.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via DATABASE_SSL_INSECURE_SKIP_VERIFY
			MinVersion:         tls.VersionTLS12,
		}
		poolCfg.ConnConfig.Fallbacks = nil
		if cfg.InsecureSkipVerify {
			logger.Warn("storage: TLS certificate verification disabled for DATABASE_URL")
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping pool", err)
	}

	logger.Info("postgres pool opened", "max_conns", poolCfg.MaxConns, "tls", cfg.TLS)
	return &DB{pool: pool, maxSize: cfg.MaxSizeBytes, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by tests.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Init applies the embedded migrations.
func (db *DB) Init(ctx context.Context) error {
	return storage.RunMigrations(ctx, db, migrations.Postgres(), db.logger)
}

// Kind reports the DB_TYPE name of this backend.
func (db *DB) Kind() string { return storage.KindNetworkedSQL }

// Ping runs the NOW() readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	var now any
	if err := db.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// SizeInfo reports the size of the current database.
func (db *DB) SizeInfo(ctx context.Context) (model.SizeInfo, error) {
	var size int64
	if err := db.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&size); err != nil {
		return model.SizeInfo{}, wrap("size info", err)
	}
	info := model.SizeInfo{Bytes: size}
	if db.maxSize > 0 {
		limit := db.maxSize
		info.Limit = &limit
	}
	return info, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	db.pool.Close()
	db.logger.Info("postgres pool closed")
	return nil
}

// EnsureMigrationTable implements storage.Migrator.
func (db *DB) EnsureMigrationTable(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// AppliedMigrations implements storage.Migrator.
func (db *DB) AppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// ApplyMigration implements storage.Migrator inside one transaction.
func (db *DB) ApplyMigration(ctx context.Context, name, body string) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
		return err
	})
}

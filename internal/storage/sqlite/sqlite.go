// Package sqlite is the embedded storage backend: a single file opened in
// WAL mode with one writer connection and a separate reader pool.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/migrations"
)

// Config holds the parameters for opening the embedded store.
type Config struct {
	// Path is the database file. Its parent directory is created if missing.
	Path string
	// Readers caps the reader pool. Defaults to max(NumCPU, 4).
	Readers int
	// MaxSizeBytes is the advertised size limit; zero means none.
	MaxSizeBytes int64
	Logger       *slog.Logger
}

// DB is the embedded Driver.
type DB struct {
	writer  *sql.DB
	reader  *sql.DB
	path    string
	maxSize int64
	logger  *slog.Logger
}

var _ storage.Driver = (*DB)(nil)

var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(OFF)",
}

func dsn(path string, immediate bool) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	if immediate {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open creates the file if needed and verifies both handles.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: sqlite: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("storage: sqlite: create data dir: %w", err)
		}
	}

	writer, err := sql.Open("sqlite", dsn(cfg.Path, true))
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	readers := cfg.Readers
	if readers <= 0 {
		readers = max(runtime.NumCPU(), 4)
	}
	reader, err := sql.Open("sqlite", dsn(cfg.Path, false))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("storage: sqlite: open reader: %w", err)
	}
	reader.SetMaxOpenConns(readers)

	db := &DB{writer: writer, reader: reader, path: cfg.Path, maxSize: cfg.MaxSizeBytes, logger: logger}

	// The writer ping creates the file and switches it to WAL before any
	// reader attaches.
	if err := writer.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite: ping writer: %w", err)
	}
	if err := reader.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite: ping reader: %w", err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "readers", readers)
	return db, nil
}

// Init applies the embedded migrations.
func (db *DB) Init(ctx context.Context) error {
	return storage.RunMigrations(ctx, db, migrations.SQLite(), db.logger)
}

// Kind reports the DB_TYPE name of this backend.
func (db *DB) Kind() string { return storage.KindEmbedded }

// Ping runs a trivial read.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.reader.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("storage: sqlite: ping: %w", err)
	}
	return nil
}

// SizeInfo reports the logical file size from the page counters.
func (db *DB) SizeInfo(ctx context.Context) (model.SizeInfo, error) {
	var size int64
	err := db.reader.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	).Scan(&size)
	if err != nil {
		return model.SizeInfo{}, fmt.Errorf("storage: sqlite: size info: %w", err)
	}
	info := model.SizeInfo{Bytes: size}
	if db.maxSize > 0 {
		limit := db.maxSize
		info.Limit = &limit
	}
	return info, nil
}

// Close releases both handles. The writer closes last so the WAL is
// checkpointed by the final connection.
func (db *DB) Close() error {
	rerr := db.reader.Close()
	werr := db.writer.Close()
	if werr != nil {
		return fmt.Errorf("storage: sqlite: close writer: %w", werr)
	}
	if rerr != nil {
		return fmt.Errorf("storage: sqlite: close reader: %w", rerr)
	}
	db.logger.Info("sqlite store closed", "path", db.path)
	return nil
}

// EnsureMigrationTable implements storage.Migrator.
func (db *DB) EnsureMigrationTable(ctx context.Context) error {
	_, err := db.writer.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`)
	return err
}

// AppliedMigrations implements storage.Migrator.
func (db *DB) AppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.writer.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// ApplyMigration implements storage.Migrator. The script and its record
// commit together.
func (db *DB) ApplyMigration(ctx context.Context, name, body string) error {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES (?) ON CONFLICT DO NOTHING`, name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

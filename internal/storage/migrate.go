package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// Migrator is the backend half of the migration runner.
type Migrator interface {
	// EnsureMigrationTable creates schema_migrations if absent.
	EnsureMigrationTable(ctx context.Context) error
	// AppliedMigrations returns the filenames already recorded.
	AppliedMigrations(ctx context.Context) (map[string]bool, error)
	// ApplyMigration runs body and records name, atomically where the
	// backend allows it.
	ApplyMigration(ctx context.Context, name, body string) error
}

// RunMigrations executes unapplied SQL files from migrationsFS in name order.
// Each file runs at most once; re-running against a migrated database is a no-op.
func RunMigrations(ctx context.Context, m Migrator, migrationsFS fs.FS, logger *slog.Logger) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := entry.Name()
		if applied[name] {
			logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		logger.Info("running migration", "file", name)
		if err := m.ApplyMigration(ctx, name, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
	}

	return nil
}

package kiroku

import (
	"log/slog"

	"github.com/ashita-ai/kiroku/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds overrides after applying defaults.
type resolvedOptions struct {
	port        int
	dbType      string
	dbPath      string
	databaseURL string
	adminAPIKey *string
	logger      *slog.Logger
	version     string
}

// apply copies the overrides onto cfg. Zero values leave cfg untouched.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.dbType != "" {
		cfg.Database.Type = o.dbType
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.databaseURL != "" {
		cfg.Database.URL = o.databaseURL
	}
	if o.adminAPIKey != nil {
		cfg.Auth.AdminAPIKey = *o.adminAPIKey
	}
}

// WithPort overrides the TCP port from config (PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithEmbedded selects the embedded backend at path (DB_TYPE=embedded, DB_PATH).
func WithEmbedded(path string) Option {
	return func(o *resolvedOptions) {
		o.dbType = config.DBTypeEmbedded
		o.dbPath = path
	}
}

// WithDatabaseURL selects the networked-sql backend (DB_TYPE=networked-sql, DATABASE_URL).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) {
		o.dbType = config.DBTypeNetworkedSQL
		o.databaseURL = url
	}
}

// WithAdminAPIKey overrides ADMIN_API_KEY. An empty key disables the gate.
func WithAdminAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.adminAPIKey = &key }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// Package config loads and validates application configuration. Values are
// layered: built-in defaults, then an optional YAML file, then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Storage backends selectable with DB_TYPE.
const (
	DBTypeEmbedded     = "embedded"
	DBTypeNetworkedSQL = "networked-sql"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"kiroku.yaml",
	"kiroku.yml",
	"/etc/kiroku/config.yaml",
}

// Config holds all application configuration.
type Config struct {
	Environment string `koanf:"environment" env:"NODE_ENV" validate:"required"`
	LogLevel    string `koanf:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Ingest    IngestConfig    `koanf:"ingest"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	OTEL      OTELConfig      `koanf:"otel"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Shutdown  ShutdownConfig  `koanf:"shutdown"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port         int           `koanf:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	Type                  string `koanf:"type" env:"DB_TYPE" validate:"oneof=embedded networked-sql"`
	Path                  string `koanf:"path" env:"DB_PATH" validate:"required_if=Type embedded"`
	URL                   string `koanf:"url" env:"DATABASE_URL" validate:"required_if=Type networked-sql"`
	SSL                   bool   `koanf:"ssl" env:"DATABASE_SSL"`
	SSLInsecureSkipVerify bool   `koanf:"ssl_insecure_skip_verify" env:"DATABASE_SSL_INSECURE_SKIP_VERIFY"`
	PoolMaxConns          int32  `koanf:"pool_max_conns" env:"DB_POOL_MAX_CONNS" validate:"min=1"`
	MaxSizeBytes          int64  `koanf:"max_size_bytes" env:"DB_MAX_SIZE_BYTES" validate:"min=0"`
}

// AuthConfig is the operator gate. An empty AdminAPIKey disables it.
type AuthConfig struct {
	AdminAPIKey       string        `koanf:"admin_api_key" env:"ADMIN_API_KEY"`
	JWTPrivateKeyPath string        `koanf:"jwt_private_key" env:"JWT_PRIVATE_KEY" validate:"required_with=JWTPublicKeyPath"`
	JWTPublicKeyPath  string        `koanf:"jwt_public_key" env:"JWT_PUBLIC_KEY" validate:"required_with=JWTPrivateKeyPath"`
	JWTExpiration     time.Duration `koanf:"jwt_expiration" env:"JWT_EXPIRATION" validate:"gt=0"`
}

// IngestConfig bounds the ingestion path.
type IngestConfig struct {
	MaxPayloadBytes int64         `koanf:"max_payload_bytes" env:"MAX_PAYLOAD_BYTES" validate:"min=1"`
	MaxInFlight     int           `koanf:"max_inflight" env:"INGEST_MAX_INFLIGHT" validate:"min=1"`
	WriteTimeout    time.Duration `koanf:"write_timeout" env:"INGEST_WRITE_TIMEOUT" validate:"gt=0"`
}

// RateLimitConfig is the per-IP limiter on ingestion.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled" env:"RATE_LIMIT_ENABLED"`
	RPS     float64 `koanf:"rps" env:"RATE_LIMIT_RPS" validate:"gt=0"`
	Burst   int     `koanf:"burst" env:"RATE_LIMIT_BURST" validate:"min=1"`
}

// OTELConfig selects the OTLP collector. An empty Endpoint disables export.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `koanf:"service_name" env:"OTEL_SERVICE_NAME" validate:"required"`
	Insecure    bool   `koanf:"insecure" env:"OTEL_INSECURE"`
}

// BreakerConfig tunes the storage circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" env:"BREAKER_OPEN_TIMEOUT" validate:"gt=0"`
}

// ShutdownConfig bounds each shutdown phase. Zero waits indefinitely.
type ShutdownConfig struct {
	HTTPTimeout  time.Duration `koanf:"http_timeout" env:"SHUTDOWN_HTTP_TIMEOUT" validate:"min=0"`
	DrainTimeout time.Duration `koanf:"drain_timeout" env:"SHUTDOWN_DRAIN_TIMEOUT" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type:         DBTypeEmbedded,
			Path:         "./data/telemetry.db",
			PoolMaxConns: 10,
		},
		Auth: AuthConfig{
			JWTExpiration: 24 * time.Hour,
		},
		Ingest: IngestConfig{
			MaxPayloadBytes: 256 * 1024,
			MaxInFlight:     1024,
			WriteTimeout:    10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		OTEL: OTELConfig{
			ServiceName: "kiroku",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Shutdown: ShutdownConfig{
			HTTPTimeout:  10 * time.Second,
			DrainTimeout: 15 * time.Second,
		},
	}
}

// envMappings maps lowercased environment variable names to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"node_env":  "environment",
	"log_level": "log_level",

	"port":          "server.port",
	"read_timeout":  "server.read_timeout",
	"write_timeout": "server.write_timeout",

	"db_type":                           "database.type",
	"db_path":                           "database.path",
	"database_url":                      "database.url",
	"database_ssl":                      "database.ssl",
	"database_ssl_insecure_skip_verify": "database.ssl_insecure_skip_verify",
	"db_pool_max_conns":                 "database.pool_max_conns",
	"db_max_size_bytes":                 "database.max_size_bytes",

	"admin_api_key":   "auth.admin_api_key",
	"jwt_private_key": "auth.jwt_private_key",
	"jwt_public_key":  "auth.jwt_public_key",
	"jwt_expiration":  "auth.jwt_expiration",

	"max_payload_bytes":    "ingest.max_payload_bytes",
	"ingest_max_inflight":  "ingest.max_inflight",
	"ingest_write_timeout": "ingest.write_timeout",

	"rate_limit_enabled": "rate_limit.enabled",
	"rate_limit_rps":     "rate_limit.rps",
	"rate_limit_burst":   "rate_limit.burst",

	"otel_exporter_otlp_endpoint": "otel.endpoint",
	"otel_service_name":           "otel.service_name",
	"otel_insecure":               "otel.insecure",

	"breaker_failure_threshold": "breaker.failure_threshold",
	"breaker_open_timeout":      "breaker.open_timeout",

	"shutdown_http_timeout":  "shutdown.http_timeout",
	"shutdown_drain_timeout": "shutdown.drain_timeout",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load is Read followed by Validate.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read layers defaults, the optional config file and the environment
// without validating, so callers can apply overrides first.
func Read() (Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validatorInstance names fields by their environment variable so errors
// point at what the operator has to change.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if name := f.Tag.Get("env"); name != "" {
				return name
			}
			return f.Name
		})
	})
	return validate
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", name, strings.Replace(fe.Param(), " ", "=", 1))
	case "required_with":
		return name + " must be set together with its key pair counterpart"
	case "oneof":
		return fmt.Sprintf("%s=%v must be one of [%s]", name, fe.Value(), fe.Param())
	case "min", "gt":
		return fmt.Sprintf("%s=%v is out of range", name, fe.Value())
	case "max":
		return fmt.Sprintf("%s=%v exceeds %s", name, fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}

// IsProduction reports whether NODE_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

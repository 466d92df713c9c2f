package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points config discovery at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, DBTypeEmbedded, cfg.Database.Type)
	assert.Equal(t, "./data/telemetry.db", cfg.Database.Path)
	assert.False(t, cfg.Database.SSL)
	assert.False(t, cfg.Database.SSLInsecureSkipVerify)
	assert.Equal(t, int32(10), cfg.Database.PoolMaxConns)
	assert.Equal(t, int64(262144), cfg.Ingest.MaxPayloadBytes)
	assert.Equal(t, 1024, cfg.Ingest.MaxInFlight)
	assert.Equal(t, 10*time.Second, cfg.Ingest.WriteTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiration)
	assert.Equal(t, "kiroku", cfg.OTEL.ServiceName)
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "8081")
	t.Setenv("DB_TYPE", "networked-sql")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/telemetry")
	t.Setenv("DATABASE_SSL", "true")
	t.Setenv("DB_POOL_MAX_CONNS", "25")
	t.Setenv("INGEST_WRITE_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "12.5")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("ADMIN_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, DBTypeNetworkedSQL, cfg.Database.Type)
	assert.Equal(t, "postgres://u:p@db:5432/telemetry", cfg.Database.URL)
	assert.True(t, cfg.Database.SSL)
	assert.Equal(t, int32(25), cfg.Database.PoolMaxConns)
	assert.Equal(t, 3*time.Second, cfg.Ingest.WriteTimeout)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.InDelta(t, 12.5, cfg.RateLimit.RPS, 0.0001)
	assert.Equal(t, "secret", cfg.Auth.AdminAPIKey)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_UnmappedEnvIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("SERVER_PORT", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 4000
ingest:
  max_inflight: 16
log_level: debug
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("INGEST_MAX_INFLIGHT", "32")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Ingest.MaxInFlight)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_DefaultFileDiscovered(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kiroku.yaml"), []byte("server:\n  port: 4100\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
}

func TestValidate_NetworkedRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Database.Type = DBTypeNetworkedSQL

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestValidate_EmbeddedRequiresPath(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PATH is required")
}

func TestValidate_UnknownDBType(t *testing.T) {
	cfg := Default()
	cfg.Database.Type = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_TYPE=mongo must be one of")
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Ingest.MaxInFlight = 0
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT=0")
	assert.Contains(t, err.Error(), "INGEST_MAX_INFLIGHT=0")
	assert.Contains(t, err.Error(), "LOG_LEVEL=loud")
}

func TestValidate_JWTKeysComeInPairs(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTPrivateKeyPath = "/keys/private.pem"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_PUBLIC_KEY")

	cfg.Auth.JWTPublicKeyPath = "/keys/public.pem"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidEnvFails(t *testing.T) {
	isolate(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

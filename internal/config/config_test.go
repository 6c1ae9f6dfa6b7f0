package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mock", cfg.Discovery.Mode)
	assert.Equal(t, "@every 6h", cfg.Orchestrator.AutoRefreshSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Orchestrator.StaleAfter)
}

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoad_File_OverridesDefaults(t *testing.T) {
	path := writeTemp(t, `
listen_addr: ":9090"
orchestrator:
  run_timeout: 5m
  lock_ttl: 90s
  heartbeat_interval: 20s
quality:
  schedule: "0 3 * * *"
alerts:
  kafka_brokers: ["kafka:9092"]
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.RunTimeout)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.LockTTL)
	assert.Equal(t, "0 3 * * *", cfg.Quality.Schedule)
	assert.Equal(t, "catalog.quality-alerts", cfg.Alerts.KafkaTopic)
	assert.Equal(t, "@every 6h", cfg.Orchestrator.AutoRefreshSchedule)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	_, err := Load(writeTemp(t, "{{not yaml"))

	assert.Error(t, err)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestApplyEnv_OverridesAndCoerces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.applyEnv(envMap(map[string]string{
		"DATABASE_URL":  "postgres://localhost/catalog",
		"REDIS_ADDR":    "redis:6379",
		"REDIS_DB":      "3",
		"S3_USE_SSL":    "true",
		"KAFKA_BROKERS": "k1:9092, k2:9092,",
		"RUN_TIMEOUT":   "45m",
		"DB_MAX_CONNS":  "not-a-number",
	}))

	assert.Equal(t, "postgres://localhost/catalog", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.S3.UseSSL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Alerts.KafkaBrokers)
	assert.Equal(t, 45*time.Minute, cfg.Orchestrator.RunTimeout)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"
	cfg.Discovery.Mode = "http"
	cfg.Orchestrator.LockBackend = "postgres"
	cfg.Orchestrator.Bus = "carrier-pigeon"
	cfg.Quality.Schedule = "every tuesday"

	err := cfg.Validate()

	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "log_level")
	assert.Contains(t, msg, "discovery.url")
	assert.Contains(t, msg, "lock_backend")
	assert.Contains(t, msg, "orchestrator.bus")
	assert.Contains(t, msg, "quality.schedule")
}

func TestValidate_ClientCertWithoutKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.ClientCert = "/etc/catalogd/client.pem"

	assert.ErrorContains(t, cfg.Validate(), "client_key")
}

func TestApplyEnv_DiscoveryTLS(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		"DISCOVERY_TLS_CA": "/etc/ca.pem",
		"DISCOVERY_H2C":    "true",
	}
	cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	assert.Equal(t, "/etc/ca.pem", cfg.Discovery.CACert)
	assert.True(t, cfg.Discovery.H2C)
}

func TestValidate_HeartbeatMustBeShorterThanTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orchestrator.HeartbeatInterval = cfg.Orchestrator.LockTTL

	assert.ErrorContains(t, cfg.Validate(), "heartbeat_interval")
}

func TestResolvePath_EnvWins(t *testing.T) {
	t.Setenv("CATALOGD_CONFIG", "/etc/catalogd/catalogd.yaml")

	assert.Equal(t, "/etc/catalogd/catalogd.yaml", ResolvePath())
}

func TestValidate_RedisRateLimitNeedsRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Backend = "redis"

	assert.ErrorContains(t, cfg.Validate(), "rate_limit.backend")

	cfg.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.applyEnv(envMap(map[string]string{"RATE_LIMIT_RPS": "0", "RATE_LIMIT_BACKEND": "redis"}))

	assert.Zero(t, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
}

// Package config handles loading and validating catalogd.yaml.
// catalogd runs with zero config: every section has a default and a missing
// database, Redis or S3 simply falls back to the in-memory implementations.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config is the top-level catalogd.yaml document.
type Config struct {
	ListenAddr   string             `yaml:"listen_addr"`
	LogLevel     string             `yaml:"log_level"`
	APIKey       string             `yaml:"api_key"`
	CORSOrigins  []string           `yaml:"cors_origins"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	S3           S3Config           `yaml:"s3"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Quality      QualityConfig      `yaml:"quality"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	Cache        CacheConfig        `yaml:"cache"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// DatabaseConfig points at the catalog Postgres.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// RedisConfig enables the Redis bus and lock backends.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// S3Config enables report archiving.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// DiscoveryConfig selects the upstream producer adapter.
type DiscoveryConfig struct {
	Mode       string        `yaml:"mode"` // mock | http
	URL        string        `yaml:"url"`
	AuthHeader string        `yaml:"auth_header"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`

	// TLS towards the producer. CACert enables TLS with a private CA;
	// ClientCert and ClientKey add mTLS. H2C speaks cleartext HTTP/2.
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	H2C        bool   `yaml:"h2c"`
}

// OrchestratorConfig tunes job execution.
type OrchestratorConfig struct {
	RunTimeout          time.Duration `yaml:"run_timeout"`
	LockBackend         string        `yaml:"lock_backend"` // memory | postgres | redis
	LockTTL             time.Duration `yaml:"lock_ttl"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	ReportRetries       uint          `yaml:"report_retries"`
	ReportDir           string        `yaml:"report_dir"`
	Bus                 string        `yaml:"bus"` // memory | postgres | redis
	AutoRefreshSchedule string        `yaml:"auto_refresh_schedule"`
	CancelGrace         time.Duration `yaml:"cancel_grace"`
}

// QualityConfig schedules background quality passes. The pass thresholds
// themselves are runtime settings, not process config.
type QualityConfig struct {
	Schedule string `yaml:"schedule"`
	Seed     uint64 `yaml:"seed"`
}

// AlertsConfig selects where quality alerts go.
type AlertsConfig struct {
	WebhookURL   string   `yaml:"webhook_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// ReaperConfig tunes the abandoned-lease sweep.
type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig tunes the read view cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// RateLimitConfig tunes per-IP API rate limiting. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Backend           string        `yaml:"backend"` // memory | redis
	Window            time.Duration `yaml:"window"`
}

// DefaultConfig returns the zero-config defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Database:   DatabaseConfig{MaxConns: 10, MinConns: 2},
		Discovery: DiscoveryConfig{
			Mode:       "mock",
			RatePerSec: 5,
			Burst:      5,
			Timeout:    30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			RunTimeout:          30 * time.Minute,
			LockBackend:         "memory",
			LockTTL:             2 * time.Minute,
			HeartbeatInterval:   30 * time.Second,
			StaleAfter:          24 * time.Hour,
			ReportRetries:       5,
			Bus:                 "memory",
			AutoRefreshSchedule: "@every 6h",
			CancelGrace:         10 * time.Second,
		},
		Alerts: AlertsConfig{KafkaTopic: "catalog.quality-alerts"},
		Reaper: ReaperConfig{Interval: time.Minute},
		Cache:  CacheConfig{TTL: 60 * time.Second, MaxEntries: 1000},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Backend:           "memory",
			Window:            time.Minute,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file.
// Priority: CATALOGD_CONFIG env var > ./catalogd.yaml > "" (no file).
func ResolvePath() string {
	if p := os.Getenv("CATALOGD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("catalogd.yaml"); err == nil {
		return "catalogd.yaml"
	}
	return ""
}

// applyEnv overlays the environment. Malformed numeric or boolean values
// are ignored and the file value kept.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("CATALOGD_API_KEY", &c.APIKey)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_ACCESS_KEY", &c.S3.AccessKey)
	str("S3_SECRET_KEY", &c.S3.SecretKey)
	str("S3_BUCKET", &c.S3.Bucket)
	str("DISCOVERY_URL", &c.Discovery.URL)
	str("DISCOVERY_MODE", &c.Discovery.Mode)
	str("DISCOVERY_AUTH_HEADER", &c.Discovery.AuthHeader)
	str("DISCOVERY_TLS_CA", &c.Discovery.CACert)
	str("DISCOVERY_TLS_CERT", &c.Discovery.ClientCert)
	str("DISCOVERY_TLS_KEY", &c.Discovery.ClientKey)
	str("LOCK_BACKEND", &c.Orchestrator.LockBackend)
	str("EVENT_BUS", &c.Orchestrator.Bus)
	str("REPORT_DIR", &c.Orchestrator.ReportDir)
	str("QUALITY_SCHEDULE", &c.Quality.Schedule)
	str("ALERT_WEBHOOK_URL", &c.Alerts.WebhookURL)
	str("KAFKA_TOPIC", &c.Alerts.KafkaTopic)
	str("RATE_LIMIT_BACKEND", &c.RateLimit.Backend)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Alerts.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("S3_USE_SSL"); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			c.S3.UseSSL = b
		}
	}
	if v, ok := lookup("DISCOVERY_H2C"); ok {
		if b, err := cast.ToBoolE(v); err == nil {
			c.Discovery.H2C = b
		}
	}
	if v, ok := lookup("REDIS_DB"); ok {
		if n, err := cast.ToIntE(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v, ok := lookup("DB_MAX_CONNS"); ok {
		if n, err := cast.ToInt32E(v); err == nil {
			c.Database.MaxConns = n
		}
	}
	if v, ok := lookup("DB_MIN_CONNS"); ok {
		if n, err := cast.ToInt32E(v); err == nil {
			c.Database.MinConns = n
		}
	}
	if v, ok := lookup("RUN_TIMEOUT"); ok {
		if d, err := cast.ToDurationE(v); err == nil {
			c.Orchestrator.RunTimeout = d
		}
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok {
		if f, err := cast.ToFloat64E(v); err == nil {
			c.RateLimit.RequestsPerSecond = f
		}
	}
	if v, ok := lookup("QUALITY_SEED"); ok {
		if n, err := cast.ToUint64E(v); err == nil {
			c.Quality.Seed = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel))
	}
	switch c.Discovery.Mode {
	case "mock":
	case "http":
		if c.Discovery.URL == "" {
			errs = append(errs, errors.New("discovery.url is required when discovery.mode is http"))
		}
	default:
		errs = append(errs, fmt.Errorf("discovery.mode %q: must be mock or http", c.Discovery.Mode))
	}
	if (c.Discovery.ClientCert == "") != (c.Discovery.ClientKey == "") {
		errs = append(errs, errors.New("discovery.client_cert and discovery.client_key must be set together"))
	}
	if c.Discovery.RatePerSec <= 0 {
		errs = append(errs, errors.New("discovery.rate_per_sec must be positive"))
	}

	o := c.Orchestrator
	if o.RunTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.run_timeout must be positive"))
	}
	if o.LockTTL <= 0 || o.HeartbeatInterval <= 0 || o.HeartbeatInterval >= o.LockTTL {
		errs = append(errs, errors.New("orchestrator.heartbeat_interval must be positive and shorter than lock_ttl"))
	}
	if o.StaleAfter <= 0 {
		errs = append(errs, errors.New("orchestrator.stale_after must be positive"))
	}
	errs = append(errs, c.checkBackend("orchestrator.lock_backend", o.LockBackend)...)
	errs = append(errs, c.checkBackend("orchestrator.bus", o.Bus)...)
	if _, err := cron.ParseStandard(o.AutoRefreshSchedule); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator.auto_refresh_schedule %q: %w", o.AutoRefreshSchedule, err))
	}
	if c.Quality.Schedule != "" {
		if _, err := cron.ParseStandard(c.Quality.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("quality.schedule %q: %w", c.Quality.Schedule, err))
		}
	}
	if c.S3.Endpoint != "" && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required when s3.endpoint is set"))
	}
	if len(c.Alerts.KafkaBrokers) > 0 && c.Alerts.KafkaTopic == "" {
		errs = append(errs, errors.New("alerts.kafka_topic is required when kafka_brokers is set"))
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("rate_limit.backend is redis but redis.addr is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q: must be memory or redis", c.RateLimit.Backend))
	}
	if c.RateLimit.RequestsPerSecond < 0 || (c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit: requests_per_second must be >= 0 and burst positive when enabled"))
	}
	if c.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("reaper.interval must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) checkBackend(field, v string) []error {
	switch v {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return []error{fmt.Errorf("%s is postgres but database.url is empty", field)}
		}
	case "redis":
		if c.Redis.Addr == "" {
			return []error{fmt.Errorf("%s is redis but redis.addr is empty", field)}
		}
	default:
		return []error{fmt.Errorf("%s %q: must be memory, postgres or redis", field, v)}
	}
	return nil
}

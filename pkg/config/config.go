package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for privsense.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Metadata store (PostgreSQL) for scan state and reports
	Database DatabaseConfig `yaml:"database"`

	// Optional Redis, used for submit idempotency dedup
	Redis RedisConfig `yaml:"redis"`

	// Target-connection registry settings
	Registry RegistryConfig `yaml:"registry"`

	// Scan pipeline defaults
	Sampling  SamplingDefaults  `yaml:"sampling"`
	Detection DetectionDefaults `yaml:"detection"`
	Ner       NerConfig         `yaml:"ner"`

	// Orchestrator settings
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Credential encryption key for registered connection passwords.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"PRIVSENSE_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL metadata-store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"privsense"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"privsense"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PG_MIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds optional Redis configuration. An empty host
// disables Redis-backed features (submit idempotency).
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RegistryConfig holds connection registry limits.
type RegistryConfig struct {
	// MaxHandlesPerConnection caps concurrent in-flight handles per descriptor.
	MaxHandlesPerConnection int `yaml:"max_handles_per_connection" env:"REGISTRY_MAX_HANDLES" env-default:"10"`
	// HandleAcquireTimeoutSeconds bounds how long Borrow blocks for a permit.
	HandleAcquireTimeoutSeconds int `yaml:"handle_acquire_timeout_seconds" env:"REGISTRY_ACQUIRE_TIMEOUT_SECONDS" env-default:"30"`
	// PoolMaxConns is the maximum number of connections per target pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"REGISTRY_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per target pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"REGISTRY_POOL_MIN_CONNS" env-default:"1"`
}

// HandleAcquireTimeout returns the configured acquire timeout.
func (c *RegistryConfig) HandleAcquireTimeout() time.Duration {
	return time.Duration(c.HandleAcquireTimeoutSeconds) * time.Second
}

// SamplingDefaults holds server-side sampling defaults applied when a
// scan request leaves fields unset.
type SamplingDefaults struct {
	SampleSize           int `yaml:"sample_size" env:"SAMPLING_SAMPLE_SIZE" env-default:"100"`
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" env:"SAMPLING_MAX_CONCURRENT_QUERIES" env-default:"5"`
	// QueryTimeoutSeconds is the per-query timeout; each column task is
	// hard-cancelled at twice this value.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"SAMPLING_QUERY_TIMEOUT_SECONDS" env-default:"30"`
}

// QueryTimeout returns the configured per-query timeout.
func (c *SamplingDefaults) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// DetectionDefaults holds server-side detection defaults.
type DetectionDefaults struct {
	HeuristicThreshold float64 `yaml:"heuristic_threshold" env:"DETECTION_HEURISTIC_THRESHOLD" env-default:"0.7"`
	RegexThreshold     float64 `yaml:"regex_threshold" env:"DETECTION_REGEX_THRESHOLD" env-default:"0.8"`
	NerThreshold       float64 `yaml:"ner_threshold" env:"DETECTION_NER_THRESHOLD" env-default:"0.3"`
	ReportingThreshold float64 `yaml:"reporting_threshold" env:"DETECTION_REPORTING_THRESHOLD" env-default:"0.5"`
}

// NerConfig holds the external recognizer endpoint and fault handling.
type NerConfig struct {
	// BaseURL of the recognizer service. Empty disables the NER strategy.
	BaseURL string `yaml:"base_url" env:"NER_BASE_URL" env-default:""`
	// MaxSamples caps how many values are sent per batch.
	MaxSamples int `yaml:"max_samples" env:"NER_MAX_SAMPLES" env-default:"50"`
	// TimeoutSeconds is the per-call timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"NER_TIMEOUT_SECONDS" env-default:"10"`
	// FailureThreshold trips the circuit breaker after N consecutive failures.
	FailureThreshold int `yaml:"failure_threshold" env:"NER_FAILURE_THRESHOLD" env-default:"5"`
	// ResetTimeoutSeconds is how long the breaker stays open before a probe.
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds" env:"NER_RESET_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the configured per-call timeout.
func (c *NerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResetTimeout returns the configured breaker reset timeout.
func (c *NerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSeconds) * time.Second
}

// OrchestratorConfig holds worker pool and cancellation settings.
type OrchestratorConfig struct {
	// Workers is the number of concurrent scan jobs.
	Workers int `yaml:"workers" env:"ORCHESTRATOR_WORKERS" env-default:"4"`
	// MaxQueued rejects submissions once this many jobs are waiting.
	MaxQueued int `yaml:"max_queued" env:"ORCHESTRATOR_MAX_QUEUED" env-default:"100"`
	// CancellationDeadlineSeconds bounds how long a cancelled job may
	// take to reach a terminal state before being force-failed.
	CancellationDeadlineSeconds int `yaml:"cancellation_deadline_seconds" env:"ORCHESTRATOR_CANCELLATION_DEADLINE_SECONDS" env-default:"30"`
	// DedupWindowSeconds is the submit idempotency window.
	DedupWindowSeconds int `yaml:"dedup_window_seconds" env:"ORCHESTRATOR_DEDUP_WINDOW_SECONDS" env-default:"300"`
}

// CancellationDeadline returns the configured cancellation deadline.
func (c *OrchestratorConfig) CancellationDeadline() time.Duration {
	return time.Duration(c.CancellationDeadlineSeconds) * time.Second
}

// DedupWindow returns the configured idempotency window.
func (c *OrchestratorConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, configuration comes from environment
// variables and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("PRIVSENSE_CREDENTIALS_KEY must be set")
	}

	return cfg, nil
}

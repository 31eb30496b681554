package config

import "time"

// Config is the root configuration structure for Callisto.
// It contains all configuration sections for the gateway server, upstream
// endpoints, the account pool, retry behavior, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and graceful shutdown behavior.
	Server ServerConfig `yaml:"server"`

	// Auth contains inbound authentication configuration for gateway clients.
	Auth AuthConfig `yaml:"auth"`

	// Upstream contains upstream endpoint and transport configuration.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Accounts contains configuration for the account store.
	Accounts AccountsConfig `yaml:"accounts"`

	// Pool contains configuration for account selection, quota thresholds,
	// and per-account request pacing.
	Pool PoolConfig `yaml:"pool"`

	// Retry contains configuration for the retry and failover loop.
	Retry RetryConfig `yaml:"retry"`

	// Fallback contains model fallback configuration.
	Fallback FallbackConfig `yaml:"fallback"`

	// QuotaRefresh contains configuration for the background quota sweep.
	QuotaRefresh QuotaRefreshConfig `yaml:"quota_refresh"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Usage contains configuration for the request usage ledger.
	Usage UsageConfig `yaml:"usage"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8085", "0.0.0.0:8085").
	// Default: "127.0.0.1:8085"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streaming responses can run for minutes, so this defaults
	// much higher than ReadTimeout.
	// Default: 10m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// AuthConfig contains inbound authentication configuration.
type AuthConfig struct {
	// APIKey is the shared secret clients must present in the x-api-key
	// header or as an Authorization bearer token. When empty, inbound
	// authentication is disabled and all requests are accepted.
	APIKey string `yaml:"api_key"`
}

// UpstreamConfig contains upstream endpoint and transport configuration.
type UpstreamConfig struct {
	// Endpoints is the ordered list of upstream base URLs. Each request
	// attempt walks this list in order before rotating accounts.
	// Default: the daily, daily-sandbox, and prod endpoints.
	Endpoints []string `yaml:"endpoints"`

	// RequestTimeout is the maximum duration for a single non-streaming
	// upstream call. Streaming calls are bounded by the client connection.
	// Default: 120s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// UserAgent identifies the client integration to the upstream service.
	// Default: "antigravity"
	UserAgent string `yaml:"user_agent"`
}

// AccountsConfig contains configuration for the account store.
type AccountsConfig struct {
	// File is the path to the YAML account store. Accounts loaded from this
	// file are merged with any accounts supplied via environment variables.
	// Default: "data/accounts.yaml"
	File string `yaml:"file"`

	// Watch enables automatic reloading when the account file changes on
	// disk. Reloads merge by email and preserve runtime state, so a
	// reload following Callisto's own debounced save is a no-op.
	// Default: true
	Watch bool `yaml:"watch"`

	// SaveDebounce is how long to wait after a state change before
	// persisting the account file. Coalesces bursts of updates.
	// Default: 2s
	SaveDebounce time.Duration `yaml:"save_debounce"`
}

// PoolConfig contains configuration for account selection.
type PoolConfig struct {
	// Strategy is the default account selection strategy.
	// Options: "hybrid", "sticky", "round-robin"
	// Default: "hybrid"
	// "hybrid" and "sticky" both honor session bindings and score the
	// pool when none applies; "round-robin" ignores bindings and cycles
	// eligible accounts even within a session.
	Strategy string `yaml:"strategy"`

	// QuotaThreshold is the remaining-quota fraction (0.0 to 1.0) below
	// which an account is deprioritized for a model. Accounts below the
	// threshold remain selectable when no better candidate exists.
	// Default: 0.1
	QuotaThreshold float64 `yaml:"quota_threshold"`

	// ModelQuotaThresholds contains per-model overrides for QuotaThreshold.
	// Keys are served model identifiers.
	ModelQuotaThresholds map[string]float64 `yaml:"model_quota_thresholds"`

	// BucketCapacity is the burst capacity of each account's token bucket.
	// Default: 50
	BucketCapacity float64 `yaml:"bucket_capacity"`

	// BucketRefillPerMinute is the steady-state refill rate of each
	// account's token bucket, in requests per minute.
	// Default: 6
	BucketRefillPerMinute float64 `yaml:"bucket_refill_per_minute"`

	// StickyTTL is the time-to-live for session-to-account bindings used by
	// the sticky strategy. 0 means bindings never expire.
	// Default: 1h
	StickyTTL time.Duration `yaml:"sticky_ttl"`

	// StickyMaxEntries is the maximum number of session bindings to retain.
	// When exceeded, the least recently used binding is evicted.
	// Default: 10000
	StickyMaxEntries int `yaml:"sticky_max_entries"`

	// QuotaStaleAfter is how long a quota snapshot remains trustworthy.
	// Older snapshots are score-penalized until refreshed.
	// Default: 5m
	QuotaStaleAfter time.Duration `yaml:"quota_stale_after"`
}

// RetryConfig contains configuration for the retry and failover loop.
type RetryConfig struct {
	// MaxAttempts is the ceiling on account rotations for a single request.
	// The effective ceiling is the larger of this value and the number of
	// usable accounts plus one.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// EmptyRetryLimit is the number of in-place retries performed when the
	// upstream returns a well-formed but contentless response.
	// Default: 2
	EmptyRetryLimit int `yaml:"empty_retry_limit"`

	// EmptyRetryBaseDelay is the base delay for the exponential backoff
	// between empty-response retries.
	// Default: 500ms
	EmptyRetryBaseDelay time.Duration `yaml:"empty_retry_base_delay"`

	// ServerErrorBackoff is the fixed pause before trying the next endpoint
	// after an upstream 5xx.
	// Default: 1s
	ServerErrorBackoff time.Duration `yaml:"server_error_backoff"`

	// NetworkPause is the pause before rotating accounts after a transport
	// error.
	// Default: 1s
	NetworkPause time.Duration `yaml:"network_pause"`

	// WaitCeiling is the longest the gateway will hold a request waiting
	// for the earliest account cooldown to lapse before failing fast.
	// Default: 30s
	WaitCeiling time.Duration `yaml:"wait_ceiling"`
}

// FallbackConfig contains model fallback configuration.
type FallbackConfig struct {
	// Enabled controls whether model fallback is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Models maps a served model identifier to the model to retry with when
	// every account is rate limited for the original. Fallback fires at
	// most once per request; chains do not cascade.
	Models map[string]string `yaml:"models"`
}

// QuotaRefreshConfig contains configuration for the background quota sweep.
type QuotaRefreshConfig struct {
	// Enabled controls whether the periodic quota sweep runs.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression for the sweep.
	// Default: "*/5 * * * *" (every 5 minutes)
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "orbital"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "callisto"
	Subsystem string `yaml:"subsystem"`

	// RequestDurationBuckets defines histogram buckets for request duration
	// in seconds.
	// Default: [0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// UsageConfig contains configuration for the request usage ledger.
type UsageConfig struct {
	// Enabled controls whether attempt outcomes are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the path to the SQLite ledger database.
	// Default: "data/usage.db"
	DatabasePath string `yaml:"database_path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

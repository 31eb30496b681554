package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8085"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Upstream defaults
	DefaultRequestTimeout = 120 * time.Second
	DefaultUserAgent      = "antigravity"

	// Accounts defaults
	DefaultAccountsFile = "data/accounts.yaml"
	DefaultAccountsWatch = true
	DefaultSaveDebounce  = 2 * time.Second

	// Pool defaults
	DefaultStrategy              = "hybrid"
	DefaultQuotaThreshold        = 0.1
	DefaultBucketCapacity        = 50.0
	DefaultBucketRefillPerMinute = 6.0
	DefaultStickyTTL             = time.Hour
	DefaultStickyMaxEntries      = 10000
	DefaultQuotaStaleAfter       = 5 * time.Minute

	// Retry defaults
	DefaultMaxAttempts         = 3
	DefaultEmptyRetryLimit     = 2
	DefaultEmptyRetryBaseDelay = 500 * time.Millisecond
	DefaultServerErrorBackoff  = time.Second
	DefaultNetworkPause        = time.Second
	DefaultWaitCeiling         = 30 * time.Second

	// Quota refresh defaults
	DefaultQuotaRefreshEnabled  = true
	DefaultQuotaRefreshSchedule = "*/5 * * * *"

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultMetricsEnabled = true
	DefaultPrometheusPath = "/metrics"
	DefaultNamespace      = "orbital"
	DefaultSubsystem      = "callisto"

	// Usage defaults
	DefaultUsageDatabasePath = "data/usage.db"
	DefaultUsageBusyTimeout  = 5 * time.Second
)

// DefaultEndpoints returns the default ordered upstream endpoint list.
func DefaultEndpoints() []string {
	return []string{
		"https://daily-cloudcode-pa.googleapis.com",
		"https://daily-cloudcode-pa.sandbox.googleapis.com",
		"https://cloudcode-pa.googleapis.com",
	}
}

// DefaultRequestDurationBuckets returns the default histogram buckets for
// request duration in seconds.
func DefaultRequestDurationBuckets() []float64 {
	return []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Upstream defaults
	if len(cfg.Upstream.Endpoints) == 0 {
		cfg.Upstream.Endpoints = DefaultEndpoints()
	}
	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = DefaultUserAgent
	}

	// Accounts defaults
	if cfg.Accounts.File == "" {
		cfg.Accounts.File = DefaultAccountsFile
	}
	if cfg.Accounts.SaveDebounce == 0 {
		cfg.Accounts.SaveDebounce = DefaultSaveDebounce
	}

	// Pool defaults
	if cfg.Pool.Strategy == "" {
		cfg.Pool.Strategy = DefaultStrategy
	}
	if cfg.Pool.QuotaThreshold == 0 {
		cfg.Pool.QuotaThreshold = DefaultQuotaThreshold
	}
	if cfg.Pool.BucketCapacity == 0 {
		cfg.Pool.BucketCapacity = DefaultBucketCapacity
	}
	if cfg.Pool.BucketRefillPerMinute == 0 {
		cfg.Pool.BucketRefillPerMinute = DefaultBucketRefillPerMinute
	}
	if cfg.Pool.StickyTTL == 0 {
		cfg.Pool.StickyTTL = DefaultStickyTTL
	}
	if cfg.Pool.StickyMaxEntries == 0 {
		cfg.Pool.StickyMaxEntries = DefaultStickyMaxEntries
	}
	if cfg.Pool.QuotaStaleAfter == 0 {
		cfg.Pool.QuotaStaleAfter = DefaultQuotaStaleAfter
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.EmptyRetryLimit == 0 {
		cfg.Retry.EmptyRetryLimit = DefaultEmptyRetryLimit
	}
	if cfg.Retry.EmptyRetryBaseDelay == 0 {
		cfg.Retry.EmptyRetryBaseDelay = DefaultEmptyRetryBaseDelay
	}
	if cfg.Retry.ServerErrorBackoff == 0 {
		cfg.Retry.ServerErrorBackoff = DefaultServerErrorBackoff
	}
	if cfg.Retry.NetworkPause == 0 {
		cfg.Retry.NetworkPause = DefaultNetworkPause
	}
	if cfg.Retry.WaitCeiling == 0 {
		cfg.Retry.WaitCeiling = DefaultWaitCeiling
	}

	// Quota refresh defaults
	if cfg.QuotaRefresh.Schedule == "" {
		cfg.QuotaRefresh.Schedule = DefaultQuotaRefreshSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultSubsystem
	}
	if len(cfg.Telemetry.Metrics.RequestDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.RequestDurationBuckets = DefaultRequestDurationBuckets()
	}

	// Usage defaults
	if cfg.Usage.DatabasePath == "" {
		cfg.Usage.DatabasePath = DefaultUsageDatabasePath
	}
	if cfg.Usage.BusyTimeout == 0 {
		cfg.Usage.BusyTimeout = DefaultUsageBusyTimeout
	}
}

// NewDefault returns a Config populated entirely with default values.
// Useful for running without a configuration file.
func NewDefault() *Config {
	cfg := &Config{
		Accounts: AccountsConfig{Watch: DefaultAccountsWatch},
		Fallback: FallbackConfig{Enabled: true},
		QuotaRefresh: QuotaRefreshConfig{
			Enabled: DefaultQuotaRefreshEnabled,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

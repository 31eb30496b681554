package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CALLISTO_SECTION_FIELD (e.g., CALLISTO_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like LoadConfigWithEnvOverrides, except that a
// missing configuration file is not an error: the built-in defaults are
// used instead, still subject to environment variable overrides.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := NewDefault()
		applyEnvOverrides(cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
		}
		return cfg, nil
	}
	return LoadConfigWithEnvOverrides(path)
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format CALLISTO_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("CALLISTO_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("CALLISTO_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("CALLISTO_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("CALLISTO_SERVER_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.IdleTimeout = d
		}
	}

	// Auth overrides
	if val := os.Getenv("CALLISTO_AUTH_API_KEY"); val != "" {
		cfg.Auth.APIKey = val
	}

	// Upstream overrides
	if val := os.Getenv("CALLISTO_UPSTREAM_ENDPOINTS"); val != "" {
		parts := strings.Split(val, ",")
		endpoints := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				endpoints = append(endpoints, p)
			}
		}
		if len(endpoints) > 0 {
			cfg.Upstream.Endpoints = endpoints
		}
	}
	if val := os.Getenv("CALLISTO_UPSTREAM_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Upstream.RequestTimeout = d
		}
	}

	// Accounts overrides
	if val := os.Getenv("CALLISTO_ACCOUNTS_FILE"); val != "" {
		cfg.Accounts.File = val
	}
	if val := os.Getenv("CALLISTO_ACCOUNTS_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Accounts.Watch = b
		}
	}

	// Pool overrides
	if val := os.Getenv("CALLISTO_POOL_STRATEGY"); val != "" {
		cfg.Pool.Strategy = val
	}
	if val := os.Getenv("CALLISTO_POOL_QUOTA_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Pool.QuotaThreshold = f
		}
	}

	// Retry overrides
	if val := os.Getenv("CALLISTO_RETRY_MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Retry.MaxAttempts = i
		}
	}
	if val := os.Getenv("CALLISTO_RETRY_WAIT_CEILING"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retry.WaitCeiling = d
		}
	}

	// Fallback overrides
	if val := os.Getenv("CALLISTO_FALLBACK_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Fallback.Enabled = b
		}
	}

	// Telemetry overrides
	if val := os.Getenv("CALLISTO_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("CALLISTO_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("CALLISTO_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}

	// Usage overrides
	if val := os.Getenv("CALLISTO_USAGE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Usage.Enabled = b
		}
	}
	if val := os.Getenv("CALLISTO_USAGE_DATABASE_PATH"); val != "" {
		cfg.Usage.DatabasePath = val
	}
}

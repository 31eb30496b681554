package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  listen_address: \"0.0.0.0:9000\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("Expected listen address 0.0.0.0:9000, got %s", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Expected default read timeout %v, got %v", DefaultReadTimeout, cfg.Server.ReadTimeout)
	}
	if len(cfg.Upstream.Endpoints) != 3 {
		t.Errorf("Expected 3 default endpoints, got %d", len(cfg.Upstream.Endpoints))
	}
	if cfg.Pool.Strategy != DefaultStrategy {
		t.Errorf("Expected default strategy %q, got %q", DefaultStrategy, cfg.Pool.Strategy)
	}
	if cfg.Pool.BucketCapacity != DefaultBucketCapacity {
		t.Errorf("Expected bucket capacity %v, got %v", DefaultBucketCapacity, cfg.Pool.BucketCapacity)
	}
	if cfg.QuotaRefresh.Schedule != DefaultQuotaRefreshSchedule {
		t.Errorf("Expected default schedule %q, got %q", DefaultQuotaRefreshSchedule, cfg.QuotaRefresh.Schedule)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{
			name:   "empty listen address",
			mutate: func(cfg *Config) { cfg.Server.ListenAddress = "" },
			field:  "server.listen_address",
		},
		{
			name:   "listen address without port",
			mutate: func(cfg *Config) { cfg.Server.ListenAddress = "localhost" },
			field:  "server.listen_address",
		},
		{
			name:   "no endpoints",
			mutate: func(cfg *Config) { cfg.Upstream.Endpoints = nil },
			field:  "upstream.endpoints",
		},
		{
			name:   "bad endpoint scheme",
			mutate: func(cfg *Config) { cfg.Upstream.Endpoints = []string{"ftp://example.com"} },
			field:  "upstream.endpoints[0]",
		},
		{
			name:   "unknown strategy",
			mutate: func(cfg *Config) { cfg.Pool.Strategy = "random" },
			field:  "pool.strategy",
		},
		{
			name:   "quota threshold out of range",
			mutate: func(cfg *Config) { cfg.Pool.QuotaThreshold = 1.5 },
			field:  "pool.quota_threshold",
		},
		{
			name:   "negative bucket capacity",
			mutate: func(cfg *Config) { cfg.Pool.BucketCapacity = -1 },
			field:  "pool.bucket_capacity",
		},
		{
			name:   "zero max attempts",
			mutate: func(cfg *Config) { cfg.Retry.MaxAttempts = -1 },
			field:  "retry.max_attempts",
		},
		{
			name: "invalid cron schedule",
			mutate: func(cfg *Config) {
				cfg.QuotaRefresh.Enabled = true
				cfg.QuotaRefresh.Schedule = "not a cron"
			},
			field: "quota_refresh.schedule",
		},
		{
			name:   "unknown log level",
			mutate: func(cfg *Config) { cfg.Telemetry.Logging.Level = "verbose" },
			field:  "telemetry.logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to mention %q, got: %v", tt.field, err)
			}
		})
	}
}

func TestNewDefaultIsValid(t *testing.T) {
	cfg := NewDefault()
	if err := Validate(cfg); err != nil {
		t.Errorf("Default configuration should be valid, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "auth:\n  api_key: \"from-file\"\n")

	t.Setenv("CALLISTO_AUTH_API_KEY", "from-env")
	t.Setenv("CALLISTO_SERVER_LISTEN_ADDRESS", "0.0.0.0:7777")
	t.Setenv("CALLISTO_UPSTREAM_ENDPOINTS", "https://a.example.com, https://b.example.com")
	t.Setenv("CALLISTO_RETRY_WAIT_CEILING", "45s")
	t.Setenv("CALLISTO_POOL_STRATEGY", "sticky")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides returned error: %v", err)
	}

	if cfg.Auth.APIKey != "from-env" {
		t.Errorf("Expected env override for api key, got %q", cfg.Auth.APIKey)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:7777" {
		t.Errorf("Expected env override for listen address, got %q", cfg.Server.ListenAddress)
	}
	if len(cfg.Upstream.Endpoints) != 2 || cfg.Upstream.Endpoints[0] != "https://a.example.com" {
		t.Errorf("Expected 2 endpoints from env, got %v", cfg.Upstream.Endpoints)
	}
	if cfg.Retry.WaitCeiling != 45*time.Second {
		t.Errorf("Expected wait ceiling 45s, got %v", cfg.Retry.WaitCeiling)
	}
	if cfg.Pool.Strategy != "sticky" {
		t.Errorf("Expected strategy sticky, got %q", cfg.Pool.Strategy)
	}
}

func TestEnvOverrideFailsValidation(t *testing.T) {
	path := writeConfigFile(t, "")

	t.Setenv("CALLISTO_POOL_STRATEGY", "bogus")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("Expected validation error after env override")
	}
}

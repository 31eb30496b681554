package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateQuotaRefresh(&cfg.QuotaRefresh)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "must not be empty",
		})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q, expected host:port", cfg.ListenAddress),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "must not be negative",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "must not be negative",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if len(cfg.Endpoints) == 0 {
		errs = append(errs, FieldError{
			Field:   "upstream.endpoints",
			Message: "at least one endpoint is required",
		})
	}
	for i, ep := range cfg.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("upstream.endpoints[%d]", i),
				Message: fmt.Sprintf("invalid URL %q", ep),
			})
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("upstream.endpoints[%d]", i),
				Message: fmt.Sprintf("unsupported scheme %q, expected http or https", u.Scheme),
			})
		}
	}

	if cfg.RequestTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "upstream.request_timeout",
			Message: "must not be negative",
		})
	}

	return errs
}

func validatePool(cfg *PoolConfig) []FieldError {
	var errs []FieldError

	switch cfg.Strategy {
	case "hybrid", "sticky", "round-robin":
	default:
		errs = append(errs, FieldError{
			Field:   "pool.strategy",
			Message: fmt.Sprintf("unknown strategy %q, expected hybrid, sticky, or round-robin", cfg.Strategy),
		})
	}

	if cfg.QuotaThreshold < 0 || cfg.QuotaThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   "pool.quota_threshold",
			Message: "must be between 0.0 and 1.0",
		})
	}
	for model, threshold := range cfg.ModelQuotaThresholds {
		if threshold < 0 || threshold > 1 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("pool.model_quota_thresholds[%s]", model),
				Message: "must be between 0.0 and 1.0",
			})
		}
	}

	if cfg.BucketCapacity <= 0 {
		errs = append(errs, FieldError{
			Field:   "pool.bucket_capacity",
			Message: "must be positive",
		})
	}
	if cfg.BucketRefillPerMinute <= 0 {
		errs = append(errs, FieldError{
			Field:   "pool.bucket_refill_per_minute",
			Message: "must be positive",
		})
	}
	if cfg.StickyMaxEntries < 0 {
		errs = append(errs, FieldError{
			Field:   "pool.sticky_max_entries",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateRetry(cfg *RetryConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "retry.max_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.EmptyRetryLimit < 0 {
		errs = append(errs, FieldError{
			Field:   "retry.empty_retry_limit",
			Message: "must not be negative",
		})
	}
	if cfg.WaitCeiling < 0 {
		errs = append(errs, FieldError{
			Field:   "retry.wait_ceiling",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateQuotaRefresh(cfg *QuotaRefreshConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "quota_refresh.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q, expected debug, info, warn, or error", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q, expected json, text, or console", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "must start with /",
		})
	}

	return errs
}

package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "proxy.port").
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
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.Environment != EnvProduction && cfg.Environment != EnvDevelopment {
		errs = append(errs, FieldError{
			Field:   "environment",
			Message: fmt.Sprintf("must be %q or %q, got %q", EnvProduction, EnvDevelopment, cfg.Environment),
		})
	}

	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if cfg.Balance.Timeout < 0 {
		errs = append(errs, FieldError{Field: "balance.timeout", Message: "timeout must not be negative"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// validateProxy validates proxy configuration.
func validateProxy(cfg *ProxyConfig) []FieldError {
	var errs []FieldError

	if cfg.Host == "" {
		errs = append(errs, FieldError{Field: "proxy.host", Message: "host is required"})
	} else if ip := net.ParseIP(cfg.Host); ip == nil && cfg.Host != "localhost" {
		errs = append(errs, FieldError{Field: "proxy.host", Message: fmt.Sprintf("invalid IP address %q", cfg.Host)})
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, FieldError{Field: "proxy.port", Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port)})
	}
	if cfg.PortAttempts < 1 || cfg.PortAttempts > 100 {
		errs = append(errs, FieldError{Field: "proxy.port_attempts", Message: "port attempts must be between 1 and 100"})
	}

	if cfg.ReadHeaderTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.read_header_timeout", Message: "timeout must not be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.idle_timeout", Message: "timeout must not be negative"})
	}
	if cfg.StopTimeout <= 0 {
		errs = append(errs, FieldError{Field: "proxy.stop_timeout", Message: "stop timeout must be positive"})
	}
	if cfg.DialTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.dial_timeout", Message: "timeout must not be negative"})
	}
	if cfg.ResponseHeaderTimeout < 0 {
		errs = append(errs, FieldError{Field: "proxy.response_header_timeout", Message: "timeout must not be negative"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "proxy.max_body_bytes", Message: "max body bytes must be positive"})
	}

	return errs
}

// validateStorage validates storage configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, FieldError{Field: "storage.driver", Message: fmt.Sprintf("driver must be \"sqlite\" or \"sqlite3\", got %q", cfg.Driver)})
	}
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "storage.path", Message: "path is required"})
	}
	switch cfg.JournalMode {
	case "wal", "delete":
	default:
		errs = append(errs, FieldError{Field: "storage.journal_mode", Message: fmt.Sprintf("journal mode must be \"wal\" or \"delete\", got %q", cfg.JournalMode)})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "storage.busy_timeout", Message: "busy timeout must not be negative"})
	}

	return errs
}

// validateRetry validates the global retry policy and every group override.
func validateRetry(cfg *RetryConfig) []FieldError {
	var errs []FieldError

	if err := cfg.Policy.Validate(); err != nil {
		errs = append(errs, FieldError{Field: "retry", Message: err.Error()})
	}
	for id, p := range cfg.Groups {
		if id <= 0 {
			errs = append(errs, FieldError{Field: "retry.groups", Message: fmt.Sprintf("invalid group id %d", id)})
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, FieldError{Field: fmt.Sprintf("retry.groups.%d", id), Message: err.Error()})
		}
	}

	return errs
}

// validateRetention validates retention configuration.
func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.Days < 1 {
		errs = append(errs, FieldError{Field: "retention.days", Message: "days must be at least 1"})
	}
	if cfg.SwitchLogDays < 0 {
		errs = append(errs, FieldError{Field: "retention.switch_log_days", Message: "days must not be negative"})
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{Field: "retention.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

// validateTelemetry validates logging and metrics configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("unknown log level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format)})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i),
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}

	for i := 1; i < len(cfg.Metrics.RequestDurationBuckets); i++ {
		if cfg.Metrics.RequestDurationBuckets[i] <= cfg.Metrics.RequestDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.request_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	return errs
}

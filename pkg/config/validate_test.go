package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"apirelay-hq/relay/pkg/retry"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"empty host", func(c *Config) { c.Proxy.Host = "" }, "proxy.host"},
		{"hostname host", func(c *Config) { c.Proxy.Host = "relay.internal" }, "proxy.host"},
		{"port zero", func(c *Config) { c.Proxy.Port = 0 }, "proxy.port"},
		{"port too large", func(c *Config) { c.Proxy.Port = 65536 }, "proxy.port"},
		{"port attempts", func(c *Config) { c.Proxy.PortAttempts = 0 }, "proxy.port_attempts"},
		{"stop timeout", func(c *Config) { c.Proxy.StopTimeout = 0 }, "proxy.stop_timeout"},
		{"negative dial timeout", func(c *Config) { c.Proxy.DialTimeout = -time.Second }, "proxy.dial_timeout"},
		{"max body", func(c *Config) { c.Proxy.MaxBodyBytes = 0 }, "proxy.max_body_bytes"},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"journal mode", func(c *Config) { c.Storage.JournalMode = "memory" }, "storage.journal_mode"},
		{"retry attempts", func(c *Config) { c.Retry.MaxAttempts = 11 }, "retry"},
		{"retry delays", func(c *Config) { c.Retry.BaseDelay = 10 * time.Second }, "retry"},
		{"group id", func(c *Config) {
			c.Retry.Groups = map[int64]retry.Policy{0: retry.DefaultPolicy()}
		}, "retry.groups"},
		{"group policy", func(c *Config) {
			p := retry.DefaultPolicy()
			p.MaxAttempts = 0
			c.Retry.Groups = map[int64]retry.Policy{3: p}
		}, "retry.groups.3"},
		{"retention days", func(c *Config) { c.Retention.Days = 0 }, "retention.days"},
		{"retention schedule", func(c *Config) { c.Retention.Schedule = "every night" }, "retention.schedule"},
		{"log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"redact pattern", func(c *Config) {
			c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "bad", Pattern: "("}}
		}, "telemetry.logging.redact_patterns[0]"},
		{"buckets", func(c *Config) {
			c.Telemetry.Metrics.RequestDurationBuckets = []float64{1, 1, 2}
		}, "telemetry.metrics.request_duration_buckets"},
		{"balance timeout", func(c *Config) { c.Balance.Timeout = -1 }, "balance.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_Localhost(t *testing.T) {
	cfg := Default()
	cfg.Proxy.Host = "localhost"
	if err := Validate(cfg); err != nil {
		t.Errorf("localhost should be accepted: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Proxy.Port = -1
	cfg.Storage.Path = ""
	cfg.Telemetry.Logging.Level = "loud"

	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  ValidationError
		want string
	}{
		{"empty", ValidationError{}, "configuration validation failed"},
		{
			"single",
			ValidationError{Errors: []FieldError{{Field: "proxy.port", Message: "bad"}}},
			"configuration validation failed: proxy.port: bad",
		},
		{
			"multiple",
			ValidationError{Errors: []FieldError{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}}},
			"configuration validation failed with 2 errors:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); !strings.HasPrefix(got, tt.want) {
				t.Errorf("Error() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

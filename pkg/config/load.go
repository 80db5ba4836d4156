package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. An empty path yields the defaults. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAY_SECTION_FIELD (e.g., RELAY_PROXY_PORT) and always take
// precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file over the boolean defaults
// 2. Apply environment variable overrides
// 3. Apply default values to whatever is still unset
// 4. Validate final configuration
//
// Defaults are applied after the overrides so that RELAY_ENV can change the
// default port.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func decode(path string) (*Config, error) {
	cfg := withDefaultFlags()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RELAY_ENV"); val != "" {
		cfg.Environment = val
	}

	// Proxy overrides
	if val := os.Getenv("RELAY_PROXY_HOST"); val != "" {
		cfg.Proxy.Host = val
	}
	if val := os.Getenv("RELAY_PROXY_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Proxy.Port = i
		}
	}
	if val := os.Getenv("RELAY_PROXY_RESPONSE_HEADER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Proxy.ResponseHeaderTimeout = d
		}
	}

	// Storage overrides
	if val := os.Getenv("RELAY_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("RELAY_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}

	// Retry overrides
	if val := os.Getenv("RELAY_RETRY_MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Retry.MaxAttempts = i
		}
	}
	if val := os.Getenv("RELAY_RETRY_BASE_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retry.BaseDelay = d
		}
	}
	if val := os.Getenv("RELAY_RETRY_MAX_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retry.MaxDelay = d
		}
	}
	if val := os.Getenv("RELAY_RETRY_RATE_LIMIT_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retry.RateLimitDelay = d
		}
	}

	// Retention overrides
	if val := os.Getenv("RELAY_RETENTION_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Retention.Enabled = b
		}
	}
	if val := os.Getenv("RELAY_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Retention.Days = i
		}
	}

	// Telemetry overrides
	if val := os.Getenv("RELAY_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("RELAY_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("RELAY_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
}

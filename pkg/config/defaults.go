package config

import (
	"time"

	"apirelay-hq/relay/pkg/retry"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Default values for configuration fields.
const (
	// Proxy defaults
	DefaultHost                  = "127.0.0.1"
	DefaultPort                  = 15721
	DefaultDevelopmentPort       = 15722
	DefaultPortAttempts          = 10
	DefaultReadHeaderTimeout     = 30 * time.Second
	DefaultIdleTimeout           = 120 * time.Second
	DefaultStopTimeout           = 500 * time.Millisecond
	DefaultDialTimeout           = 10 * time.Second
	DefaultResponseHeaderTimeout = 120 * time.Second
	DefaultMaxBodyBytes          = 32 << 20

	// Storage defaults
	DefaultStorageDriver      = "sqlite"
	DefaultStoragePath        = "data/relay.db"
	DefaultStorageJournalMode = "wal"
	DefaultStorageBusyTimeout = 5 * time.Second

	// Retention defaults
	DefaultRetentionEnabled  = true
	DefaultRetentionDays     = 30
	DefaultRetentionSchedule = "0 3 * * *"

	// Balance defaults
	DefaultBalanceTimeout = 15 * time.Second

	// Telemetry defaults
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRedactSecrets    = true
	DefaultMetricsEnabled   = true
	DefaultMetricsNamespace = "relay"
	DefaultMetricsSubsystem = "proxy"
)

// DefaultRequestDurationBuckets covers quick failures up to long streams.
var DefaultRequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := withDefaultFlags()
	ApplyDefaults(cfg)
	return cfg
}

// withDefaultFlags returns an otherwise empty configuration whose booleans
// hold their defaults. Files are decoded on top of it so an omitted flag
// keeps its default while an explicit false still wins.
func withDefaultFlags() *Config {
	return &Config{
		Retention: RetentionConfig{Enabled: DefaultRetentionEnabled},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactSecrets: DefaultRedactSecrets},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
}

// PortFor returns the default listener port for an environment.
func PortFor(env string) int {
	if env == EnvDevelopment {
		return DefaultDevelopmentPort
	}
	return DefaultPort
}

// ApplyDefaults fills zero-valued fields with their defaults. Boolean fields
// cannot be told apart from an explicit false and are left alone; use Default
// as the starting point to get their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvProduction
	}

	// Proxy defaults
	if cfg.Proxy.Host == "" {
		cfg.Proxy.Host = DefaultHost
	}
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = PortFor(cfg.Environment)
	}
	if cfg.Proxy.PortAttempts == 0 {
		cfg.Proxy.PortAttempts = DefaultPortAttempts
	}
	if cfg.Proxy.ReadHeaderTimeout == 0 {
		cfg.Proxy.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Proxy.IdleTimeout == 0 {
		cfg.Proxy.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Proxy.StopTimeout == 0 {
		cfg.Proxy.StopTimeout = DefaultStopTimeout
	}
	if cfg.Proxy.DialTimeout == 0 {
		cfg.Proxy.DialTimeout = DefaultDialTimeout
	}
	if cfg.Proxy.ResponseHeaderTimeout == 0 {
		cfg.Proxy.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if cfg.Proxy.MaxBodyBytes == 0 {
		cfg.Proxy.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.JournalMode == "" {
		cfg.Storage.JournalMode = DefaultStorageJournalMode
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}

	// Retry defaults; group overrides inherit unset fields from the global policy
	applyPolicyDefaults(&cfg.Retry.Policy, retry.DefaultPolicy())
	for id, p := range cfg.Retry.Groups {
		applyPolicyDefaults(&p, cfg.Retry.Policy)
		cfg.Retry.Groups[id] = p
	}

	// Retention defaults
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultRetentionDays
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}

	// Balance defaults
	if cfg.Balance.Timeout == 0 {
		cfg.Balance.Timeout = DefaultBalanceTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.RequestDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
}

func applyPolicyDefaults(p *retry.Policy, from retry.Policy) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = from.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = from.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = from.MaxDelay
	}
	if p.RateLimitDelay == 0 {
		p.RateLimitDelay = from.RateLimitDelay
	}
}

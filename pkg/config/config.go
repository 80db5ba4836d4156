package config

import (
	"time"

	"apirelay-hq/relay/pkg/retry"
)

// Config is the root configuration structure for the relay. It covers the
// local listener, persistence, retry behaviour, request log retention,
// balance queries and telemetry.
type Config struct {
	// Environment selects environment-specific defaults.
	// Options: "production", "development"
	// Default: "production"
	Environment string `yaml:"environment"`

	// Proxy contains the local listener and upstream client settings.
	Proxy ProxyConfig `yaml:"proxy"`

	// Storage contains the SQLite database settings.
	Storage StorageConfig `yaml:"storage"`

	// Retry contains the global retry policy and per-group overrides.
	Retry RetryConfig `yaml:"retry"`

	// Retention controls periodic pruning of request logs.
	Retention RetentionConfig `yaml:"retention"`

	// Balance contains settings for on-demand balance queries.
	Balance BalanceConfig `yaml:"balance"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig contains configuration for the local proxy listener.
type ProxyConfig struct {
	// Host is the interface to bind. The listener is plain HTTP and is meant
	// for loopback use only.
	// Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port is the first port tried. When it is taken the next ports are
	// tried in order, up to PortAttempts ports in total.
	// Default: 15721 (15722 in development)
	Port int `yaml:"port"`

	// PortAttempts is the number of consecutive ports tried on bind failure.
	// Default: 10
	PortAttempts int `yaml:"port_attempts"`

	// ReadHeaderTimeout bounds reading a request's headers.
	// Default: 30s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout is how long keep-alive connections wait for the next request.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// StopTimeout bounds how long Stop waits for the listener to report
	// stopped before forcing the state.
	// Default: 500ms
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// DialTimeout bounds establishing a connection to a backend.
	// Default: 10s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ResponseHeaderTimeout bounds waiting for a backend's response headers.
	// Streaming bodies are not limited once headers arrive.
	// Default: 120s
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// MaxBodyBytes limits the size of an inbound request body.
	// Default: 33554432 (32MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// StorageConfig contains configuration for the SQLite store.
type StorageConfig struct {
	// Driver selects the SQLite driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file location.
	// Default: "data/relay.db"
	Path string `yaml:"path"`

	// JournalMode is the SQLite journal mode.
	// Options: "wal", "delete"
	// Default: "wal"
	JournalMode string `yaml:"journal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetryConfig contains the global retry policy and per-group overrides.
// Fields left unset in a group override inherit the global value.
type RetryConfig struct {
	retry.Policy `yaml:",inline"`

	// Groups maps a group id to its policy override.
	Groups map[int64]retry.Policy `yaml:"groups"`
}

// RetentionConfig controls request log pruning.
type RetentionConfig struct {
	// Enabled turns the pruning schedule on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Days is how long request logs are kept.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is a cron expression (5 fields) for the prune job.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// SwitchLogDays is how long switch events are kept; 0 keeps them forever.
	// Default: 0
	SwitchLogDays int `yaml:"switch_log_days"`
}

// BalanceConfig contains settings for balance queries.
type BalanceConfig struct {
	// Timeout bounds one balance request.
	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig contains observability configuration.
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
	// Options: "json", "text"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks API keys and bearer tokens in log output.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether Prometheus metrics are exported. The in-process
	// request counters behind the status endpoint are always kept.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace is the metric name prefix.
	// Default: "relay"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "proxy"
	Subsystem string `yaml:"subsystem"`

	// RequestDurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

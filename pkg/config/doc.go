// Package config provides configuration management for the relay.
//
// This package handles loading, validating, and hot-reloading configuration
// from YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("relay.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("relay.yaml")
//
// An empty path yields the built-in defaults.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RELAY_SECTION_FIELD.
// For example:
//
//   - RELAY_ENV selects "production" or "development" defaults
//   - RELAY_PROXY_PORT overrides proxy.port
//   - RELAY_STORAGE_PATH overrides storage.path
//   - RELAY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Boolean defaults (flags that default to true)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Remaining default values (defined in defaults.go)
//  5. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and reloads it after
// a short debounce. Only settings that can change at runtime are applied by
// the caller: retry policies and the log level. Listener and storage settings
// take effect on the next start.
package config

// Package telemetry groups the relay's observability packages.
//
//   - logging: slog construction with credential redaction
//   - metrics: process-wide request counters mirrored into Prometheus
//   - trace: request ids and per-request lifecycle traces
//   - health: component checks behind /_relay/health
package telemetry

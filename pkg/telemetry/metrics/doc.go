// Package metrics provides the process-wide request metrics for the relay.
//
// # Overview
//
// A single Collector is owned by the application context. Each completed
// request is recorded once and updates two views:
//
//   - An in-process aggregate (total, success, failed, streaming, tokens,
//     per-direction conversions, running average latency) read through
//     Snapshot and cleared through Reset. It backs the /_relay/status
//     endpoint and the CLI.
//   - Prometheus series on the collector's registry, exported at
//     /_relay/metrics when telemetry.metrics.enabled is true.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	collector.RecordRequest(metrics.Request{
//		Backend:  "primary",
//		Provider: "openai",
//		Success:  true,
//		Duration: time.Second,
//	})
//
//	stats := collector.Snapshot()
//
// # Cardinality Management
//
// Backend names come from user configuration. After 1000 distinct names
// further backends are reported under the "other" label.
package metrics

package metrics

import (
	"apirelay-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics tracks upstream backend behaviour and failover activity.
//
// Metrics:
//   - relay_proxy_backend_latency_seconds: time to response headers
//   - relay_proxy_backend_errors_total: classified failures by kind
//   - relay_proxy_backend_retries_total: in-place retries
//   - relay_proxy_switches_total: backend switches by reason
type BackendMetrics struct {
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	retries  *prometheus.CounterVec
	switches *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend metrics with the provided registry.
func NewBackendMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BackendMetrics {
	bm := &BackendMetrics{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_latency_seconds",
				Help:      "Backend latency to response headers in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"backend"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_errors_total",
				Help:      "Total number of classified backend failures",
			},
			[]string{"backend", "kind"},
		),

		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_retries_total",
				Help:      "Total number of retries against the same backend",
			},
			[]string{"backend"},
		),

		switches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "switches_total",
				Help:      "Total number of backend switches by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		bm.latency,
		bm.errors,
		bm.retries,
		bm.switches,
	)

	return bm
}

// RecordLatency observes a backend latency in seconds.
func (bm *BackendMetrics) RecordLatency(backend string, seconds float64) {
	bm.latency.WithLabelValues(backend).Observe(seconds)
}

// RecordError records a classified failure.
//
// Kinds follow the failure taxonomy: "ConnectionFailed", "Timeout",
// "RateLimit", "InsufficientBalance", "AccountBanned", "Authentication",
// "ServerError", "InvalidResponse", "NetworkError", "Unknown".
func (bm *BackendMetrics) RecordError(backend, kind string) {
	bm.errors.WithLabelValues(backend, kind).Inc()
}

// RecordRetry records one in-place retry.
func (bm *BackendMetrics) RecordRetry(backend string) {
	bm.retries.WithLabelValues(backend).Inc()
}

// RecordSwitch records one backend switch.
func (bm *BackendMetrics) RecordSwitch(reason string) {
	bm.switches.WithLabelValues(reason).Inc()
}

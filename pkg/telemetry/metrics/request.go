package metrics

import (
	"time"

	"apirelay-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks proxied request counts, durations and token usage.
//
// Metrics:
//   - relay_proxy_requests_total: request count by backend, provider, status
//   - relay_proxy_request_duration_seconds: request duration histogram
//   - relay_proxy_tokens_total: tokens by backend and type (input/output)
//   - relay_proxy_streaming_requests_total: streamed responses by backend
//   - relay_proxy_conversions_total: format conversions by direction
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	streamingTotal  *prometheus.CounterVec
	conversions     *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"backend", "provider", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"backend", "provider"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Total number of tokens reported by backends",
			},
			[]string{"backend", "type"},
		),

		streamingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "streaming_requests_total",
				Help:      "Total number of streamed responses",
			},
			[]string{"backend"},
		),

		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conversions_total",
				Help:      "Total number of request format conversions",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.tokensTotal,
		rm.streamingTotal,
		rm.conversions,
	)

	return rm
}

// RecordRequest increments the request counter and observes its duration.
func (rm *RequestMetrics) RecordRequest(backend, provider, status string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(backend, provider, status).Inc()
	rm.requestDuration.WithLabelValues(backend, provider).Observe(duration.Seconds())
}

// RecordTokens records input and output token counts. Zero counts are skipped.
func (rm *RequestMetrics) RecordTokens(backend string, input, output int64) {
	if input > 0 {
		rm.tokensTotal.WithLabelValues(backend, "input").Add(float64(input))
	}
	if output > 0 {
		rm.tokensTotal.WithLabelValues(backend, "output").Add(float64(output))
	}
}

// RecordStream records a streamed response.
func (rm *RequestMetrics) RecordStream(backend string) {
	rm.streamingTotal.WithLabelValues(backend).Inc()
}

// RecordConversion records a format conversion.
func (rm *RequestMetrics) RecordConversion(direction string) {
	rm.conversions.WithLabelValues(direction).Inc()
}

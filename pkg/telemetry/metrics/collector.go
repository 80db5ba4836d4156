package metrics

import (
	"fmt"
	"sync"
	"time"

	"apirelay-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// maxBackendLabels bounds the number of distinct backend label values.
const maxBackendLabels = 1000

// otherBackend replaces backend labels once the limit is reached.
const otherBackend = "other"

// Request describes one completed proxied request.
type Request struct {
	// Backend is the backend name the request was sent to. Empty when no
	// backend was active.
	Backend string

	// Provider is the upstream wire format ("anthropic", "openai", "gemini").
	Provider string

	// Conversion is the conversion direction such as "anthropic_to_openai",
	// or empty when the request was passed through unchanged.
	Conversion string

	Success      bool
	Stream       bool
	StatusCode   int
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
}

// Collector is the process-wide metrics sink. Every recorded request updates
// an in-process aggregate (see Snapshot) and, when metrics are enabled, the
// Prometheus series registered on the collector's registry.
//
// One Collector is created per process by the application context and shared
// by reference.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	agg *aggregate

	requestMetrics *RequestMetrics
	backendMetrics *BackendMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "relay",
//		Subsystem: "proxy",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = append([]float64(nil), config.DefaultRequestDurationBuckets...)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		agg:                newAggregate(),
		cardinalityLimiter: NewCardinalityLimiter(maxBackendLabels),
	}

	c.requestMetrics = NewRequestMetrics(cfg, registry)
	c.backendMetrics = NewBackendMetrics(cfg, registry)

	return c
}

// RecordRequest records a completed request.
//
// Example:
//
//	collector.RecordRequest(metrics.Request{
//		Backend:    "primary",
//		Provider:   "openai",
//		Conversion: "anthropic_to_openai",
//		Success:    true,
//		StatusCode: 200,
//		Duration:   1200 * time.Millisecond,
//	})
func (c *Collector) RecordRequest(rec Request) {
	c.agg.record(rec)

	if !c.config.Enabled {
		return
	}

	backend := c.backendLabel(rec.Backend)
	c.requestMetrics.RecordRequest(backend, rec.Provider, statusLabel(rec), rec.Duration)
	c.requestMetrics.RecordTokens(backend, rec.InputTokens, rec.OutputTokens)
	if rec.Stream {
		c.requestMetrics.RecordStream(backend)
	}
	if rec.Conversion != "" {
		c.requestMetrics.RecordConversion(rec.Conversion)
	}
}

// RecordBackendLatency records the time to first response byte from a backend.
func (c *Collector) RecordBackendLatency(backend string, latency time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordLatency(c.backendLabel(backend), latency.Seconds())
}

// RecordBackendError records a classified failure from a backend.
//
// Parameters:
//   - backend: Backend name
//   - kind: Failure kind (e.g., "Timeout", "RateLimit")
func (c *Collector) RecordBackendError(backend, kind string) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordError(c.backendLabel(backend), kind)
}

// RecordRetry records a retry of the same backend.
func (c *Collector) RecordRetry(backend string) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordRetry(c.backendLabel(backend))
}

// RecordSwitch records a backend switch with the given reason.
func (c *Collector) RecordSwitch(reason string) {
	if !c.config.Enabled {
		return
	}
	c.backendMetrics.RecordSwitch(reason)
}

// Snapshot returns a copy of the aggregate counters.
func (c *Collector) Snapshot() Stats {
	return c.agg.snapshot()
}

// Reset zeroes the aggregate counters. Prometheus counters are monotonic and
// are left untouched.
func (c *Collector) Reset() {
	c.agg.reset()
}

// Enabled reports whether Prometheus export is on.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) backendLabel(backend string) string {
	if backend == "" {
		return "none"
	}
	if !c.cardinalityLimiter.Allow(fmt.Sprintf("backend:%s", backend)) {
		return otherBackend
	}
	return backend
}

func statusLabel(rec Request) string {
	if rec.Success {
		return "success"
	}
	return "error"
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label set is allowed. Returns true if the label set
// already exists or if we haven't reached the cardinality limit yet.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}

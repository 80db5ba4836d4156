package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"apirelay-hq/relay/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                true,
		Namespace:              "test",
		Subsystem:              "relay",
		RequestDurationBuckets: []float64{0.1, 0.5, 1.0, 5.0},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector.Registry() != registry {
		t.Error("collector registry not set correctly")
	}
	if !collector.Enabled() {
		t.Error("expected collector enabled")
	}
}

func TestCollector_NewCollectorDefaults(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	collector := NewCollector(cfg, nil)

	if collector.Registry() == nil {
		t.Fatal("expected a registry to be created")
	}
	if cfg.Namespace != config.DefaultMetricsNamespace || cfg.Subsystem != config.DefaultMetricsSubsystem {
		t.Errorf("unexpected namespace/subsystem %q/%q", cfg.Namespace, cfg.Subsystem)
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		t.Error("expected default buckets")
	}
}

func TestCollector_RecordRequestAggregate(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	records := []Request{
		{Backend: "a", Provider: "openai", Success: true, Duration: 100 * time.Millisecond, InputTokens: 10, OutputTokens: 5},
		{Backend: "a", Provider: "openai", Success: false, Duration: 300 * time.Millisecond},
		{Backend: "b", Provider: "anthropic", Conversion: "openai_to_anthropic", Success: true, Stream: true, Duration: 200 * time.Millisecond, InputTokens: 7, OutputTokens: 3},
		{Backend: "b", Provider: "anthropic", Conversion: "openai_to_anthropic", Success: true, Duration: 400 * time.Millisecond},
	}
	for _, r := range records {
		collector.RecordRequest(r)
	}

	s := collector.Snapshot()
	if s.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", s.TotalRequests)
	}
	if s.SuccessfulRequests != 3 || s.FailedRequests != 1 {
		t.Errorf("success/failed = %d/%d, want 3/1", s.SuccessfulRequests, s.FailedRequests)
	}
	if s.StreamingRequests != 1 {
		t.Errorf("StreamingRequests = %d, want 1", s.StreamingRequests)
	}
	if s.InputTokens != 17 || s.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d, want 17/8", s.InputTokens, s.OutputTokens)
	}
	if s.Conversions["openai_to_anthropic"] != 2 {
		t.Errorf("conversions = %v", s.Conversions)
	}
	if s.AvgLatencyMs < 249.99 || s.AvgLatencyMs > 250.01 {
		t.Errorf("AvgLatencyMs = %f, want 250", s.AvgLatencyMs)
	}
}

func TestCollector_SnapshotIsCopy(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.RecordRequest(Request{Conversion: "anthropic_to_openai", Success: true})

	s := collector.Snapshot()
	s.Conversions["anthropic_to_openai"] = 100
	s.TotalRequests = 100

	again := collector.Snapshot()
	if again.Conversions["anthropic_to_openai"] != 1 || again.TotalRequests != 1 {
		t.Errorf("snapshot mutation leaked into collector: %+v", again)
	}
}

func TestCollector_Reset(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.RecordRequest(Request{Success: true, Duration: time.Second, Conversion: "x"})
	collector.Reset()

	s := collector.Snapshot()
	if s.TotalRequests != 0 || s.AvgLatencyMs != 0 || len(s.Conversions) != 0 {
		t.Errorf("expected zeroed stats after reset, got %+v", s)
	}
	if s.Conversions == nil {
		t.Error("expected non-nil conversions map after reset")
	}
}

func TestCollector_TotalEqualsSuccessPlusFailed(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			collector.RecordRequest(Request{
				Backend:  "a",
				Provider: "openai",
				Success:  i%3 != 0,
				Duration: time.Duration(i) * time.Millisecond,
			})
		}(i)
	}
	wg.Wait()

	s := collector.Snapshot()
	if s.TotalRequests != 50 {
		t.Errorf("TotalRequests = %d, want 50", s.TotalRequests)
	}
	if s.TotalRequests != s.SuccessfulRequests+s.FailedRequests {
		t.Errorf("total %d != success %d + failed %d", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	}
}

func TestCollector_PrometheusMirror(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.RecordRequest(Request{Backend: "a", Provider: "openai", Success: true, Stream: true, Duration: time.Second, InputTokens: 12, OutputTokens: 4, Conversion: "anthropic_to_openai"})
	collector.RecordRequest(Request{Backend: "a", Provider: "openai", Success: false, Duration: time.Second})
	collector.RecordBackendError("a", "Timeout")
	collector.RecordRetry("a")
	collector.RecordSwitch("timeout")
	collector.RecordBackendLatency("a", 250*time.Millisecond)

	rm := collector.requestMetrics
	bm := collector.backendMetrics

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"success", rm.requestsTotal.WithLabelValues("a", "openai", "success"), 1},
		{"error", rm.requestsTotal.WithLabelValues("a", "openai", "error"), 1},
		{"input tokens", rm.tokensTotal.WithLabelValues("a", "input"), 12},
		{"output tokens", rm.tokensTotal.WithLabelValues("a", "output"), 4},
		{"streaming", rm.streamingTotal.WithLabelValues("a"), 1},
		{"conversion", rm.conversions.WithLabelValues("anthropic_to_openai"), 1},
		{"backend error", bm.errors.WithLabelValues("a", "Timeout"), 1},
		{"retry", bm.retries.WithLabelValues("a"), 1},
		{"switch", bm.switches.WithLabelValues("timeout"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(bm.latency); n != 1 {
		t.Errorf("expected 1 latency series, got %d", n)
	}
}

func TestCollector_DisabledKeepsAggregate(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, prometheus.NewRegistry())

	collector.RecordRequest(Request{Backend: "a", Provider: "openai", Success: true})
	collector.RecordSwitch("manual")

	if got := collector.Snapshot().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d, want 1", got)
	}
	if n := testutil.CollectAndCount(collector.requestMetrics.requestsTotal); n != 0 {
		t.Errorf("expected no prometheus series when disabled, got %d", n)
	}
	if n := testutil.CollectAndCount(collector.backendMetrics.switches); n != 0 {
		t.Errorf("expected no switch series when disabled, got %d", n)
	}
}

func TestCollector_BackendLabel(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.cardinalityLimiter = NewCardinalityLimiter(1)

	if got := collector.backendLabel(""); got != "none" {
		t.Errorf("empty backend label = %q", got)
	}
	if got := collector.backendLabel("first"); got != "first" {
		t.Errorf("first label = %q", got)
	}
	if got := collector.backendLabel("second"); got != otherBackend {
		t.Errorf("over-limit label = %q, want %q", got, otherBackend)
	}
	if got := collector.backendLabel("first"); got != "first" {
		t.Errorf("known label = %q", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("expected first two label sets to be allowed")
	}
	if cl.Allow("c") {
		t.Error("expected third label set to be rejected")
	}
	if !cl.Allow("a") {
		t.Error("expected existing label set to be allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.RecordRequest(Request{Backend: "a", Provider: "gemini", Success: true, Duration: time.Second})

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/_relay/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), `test_relay_requests_total{backend="a",provider="gemini",status="success"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

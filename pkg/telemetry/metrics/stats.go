package metrics

import (
	"maps"
	"sync"
	"time"
)

// Stats is a point-in-time copy of the process-wide request counters.
// TotalRequests always equals SuccessfulRequests + FailedRequests.
type Stats struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	StreamingRequests  int64            `json:"streaming_requests"`
	InputTokens        int64            `json:"input_tokens"`
	OutputTokens       int64            `json:"output_tokens"`
	Conversions        map[string]int64 `json:"conversions"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
}

// aggregate holds the live counters behind Stats.
type aggregate struct {
	mu    sync.Mutex
	stats Stats
}

func newAggregate() *aggregate {
	return &aggregate{stats: Stats{Conversions: make(map[string]int64)}}
}

func (a *aggregate) record(rec Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.TotalRequests++
	if rec.Success {
		s.SuccessfulRequests++
	} else {
		s.FailedRequests++
	}
	if rec.Stream {
		s.StreamingRequests++
	}
	s.InputTokens += rec.InputTokens
	s.OutputTokens += rec.OutputTokens
	if rec.Conversion != "" {
		s.Conversions[rec.Conversion]++
	}

	// Running mean over every recorded request.
	ms := float64(rec.Duration) / float64(time.Millisecond)
	s.AvgLatencyMs += (ms - s.AvgLatencyMs) / float64(s.TotalRequests)
}

func (a *aggregate) snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.stats
	out.Conversions = maps.Clone(a.stats.Conversions)
	return out
}

func (a *aggregate) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats = Stats{Conversions: make(map[string]int64)}
}

// Package trace records the lifecycle of each proxied request.
//
// Every request gets a process-unique id from an IDGenerator and a
// RequestTrace that collects named stage events (received, format detected,
// conversion, upstream round trip, stream chunks, completion or error). Each
// event carries the time since the previous event and since the request
// started. Events are logged at debug level as they happen and the trace
// logs a single structured summary when it finishes.
package trace

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator issues request ids of the form req-<unix seconds>-<counter>.
// The counter never wraps and is zero-padded to the full width of a uint64, so
// ids never repeat within one process and sort in issue order.
type IDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator creates a generator starting at counter 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a new request id.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("req-%010d-%020d", g.now().Unix(), n)
}

package retry

import (
	"sync"
	"sync/atomic"
)

const counterShards = 16

// Counters tracks consecutive failures per backend.
//
// Each backend owns an independent atomic counter. The map that holds them is
// split into shards so concurrent failures on different backends rarely touch
// the same lock; the lock is only taken for writing when a backend is seen for
// the first time.
type Counters struct {
	shards [counterShards]counterShard
}

type counterShard struct {
	mu     sync.RWMutex
	counts map[int64]*atomic.Int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	c := &Counters{}
	for i := range c.shards {
		c.shards[i].counts = make(map[int64]*atomic.Int64)
	}
	return c
}

func (c *Counters) shard(backendID int64) *counterShard {
	idx := backendID % counterShards
	if idx < 0 {
		idx = -idx
	}
	return &c.shards[idx]
}

func (c *Counters) counter(backendID int64) *atomic.Int64 {
	s := c.shard(backendID)

	s.mu.RLock()
	n, ok := s.counts[backendID]
	s.mu.RUnlock()
	if ok {
		return n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.counts[backendID]; ok {
		return n
	}
	n = new(atomic.Int64)
	s.counts[backendID] = n
	return n
}

// Increment records a failed attempt and returns the new count.
func (c *Counters) Increment(backendID int64) int64 {
	return c.counter(backendID).Add(1)
}

// Reset zeroes the backend's counter after a success.
func (c *Counters) Reset(backendID int64) {
	c.counter(backendID).Store(0)
}

// Get returns the backend's current consecutive-failure count.
func (c *Counters) Get(backendID int64) int64 {
	s := c.shard(backendID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.counts[backendID]; ok {
		return n.Load()
	}
	return 0
}

// All returns a copy of every non-zero counter, keyed by backend id.
func (c *Counters) All() map[int64]int64 {
	out := make(map[int64]int64)
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for id, n := range s.counts {
			if v := n.Load(); v > 0 {
				out[id] = v
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Package retry decides whether a failed upstream attempt is retried against
// the same backend and how long to wait before doing so.
package retry

import (
	"fmt"
	"math/rand/v2"
	"time"

	"apirelay-hq/relay/pkg/failure"
)

// Bounds on Policy.MaxAttempts.
const (
	MinAttempts = 1
	MaxAttempts = 10

	// jitterFraction is the maximum relative deviation applied by Delay.
	jitterFraction = 0.10
)

// Policy holds the retry parameters for one scope (global or a single group).
type Policy struct {
	// MaxAttempts is the consecutive-failure ceiling for a backend. While the
	// backend's counter is below it, recoverable failures are retried in place.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the first backoff step.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay"`

	// RateLimitDelay is the fixed wait used for rate-limited failures.
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       8 * time.Second,
		RateLimitDelay: 5 * time.Second,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < MinAttempts || p.MaxAttempts > MaxAttempts {
		return fmt.Errorf("max attempts must be between %d and %d, got %d", MinAttempts, MaxAttempts, p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.BaseDelay >= p.MaxDelay {
		return fmt.Errorf("base delay (%s) must be less than max delay (%s)", p.BaseDelay, p.MaxDelay)
	}
	if p.RateLimitDelay < 0 {
		return fmt.Errorf("rate limit delay must not be negative, got %s", p.RateLimitDelay)
	}
	return nil
}

// ShouldRetry reports whether a backend with the given consecutive-failure
// count may be retried after a failure with recoverability rec.
func (p Policy) ShouldRetry(failures int64, rec failure.Recoverability) bool {
	if rec == failure.Unrecoverable {
		return false
	}
	return failures < int64(p.MaxAttempts)
}

// Backoff returns the unjittered delay for the given attempt number:
// base * 2^(attempt-1) capped at MaxDelay. Attempt 0 (or less) yields 0.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Delay returns the wait before the next attempt. Rate-limited failures always
// wait RateLimitDelay; everything else uses Backoff with up to ±10% jitter.
func (p Policy) Delay(attempt int, rec failure.Recoverability) time.Duration {
	if rec == failure.RateLimited {
		return p.RateLimitDelay
	}
	return jitter(p.Backoff(attempt))
}

// jitter spreads d uniformly within ±10%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}

package client

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 60 * time.Second
	jitter     = 0.25
)

// Reconnector spaces out reconnection attempts. The default policy is
// exponential backoff with jitter; FixedReconnector waits the same delay
// every time.
type Reconnector struct {
	min     time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// NewReconnector creates an exponential Reconnector.
func NewReconnector() *Reconnector {
	return &Reconnector{min: minBackoff, max: maxBackoff, jitter: jitter}
}

// FixedReconnector creates a Reconnector that always waits d.
func FixedReconnector(d time.Duration) *Reconnector {
	return &Reconnector{min: d, max: d}
}

// Wait blocks for the next backoff duration and returns false if ctx ends
// first.
func (r *Reconnector) Wait(ctx context.Context) bool {
	t := time.NewTimer(r.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset resets the backoff counter (call after a successful connection).
func (r *Reconnector) Reset() {
	r.attempt = 0
}

// Next returns the delay before the next attempt and advances the counter.
func (r *Reconnector) Next() time.Duration {
	if r.min == r.max {
		r.attempt++
		return r.min
	}

	// Exponential: min * 2^attempt, capped at max
	base := float64(r.min) * math.Pow(2, float64(r.attempt))
	if base > float64(r.max) {
		base = float64(r.max)
	}

	// Jitter: ±25% by default
	j := base * r.jitter * (2*rand.Float64() - 1)
	d := time.Duration(base + j)
	if d < r.min {
		d = r.min
	}
	if d > r.max {
		d = r.max
	}

	r.attempt++
	return d
}

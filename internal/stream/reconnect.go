package stream

import (
	"math"
	"math/rand"
	"time"
)

// reconnector computes capped exponential backoff with jitter for the
// push connection. The attempt counter resets once a connection has
// stayed up for a stable minute, so a flaky evening doesn't leave the
// client permanently at the cap.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector(base, max time.Duration) *reconnector {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &reconnector{baseDelay: base, maxDelay: max}
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

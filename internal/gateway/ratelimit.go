package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-connection token bucket over the configured
// requests-per-minute budget. A non-positive rpm disables limiting
// entirely, matching the config.gateway.rateLimitRpm "0 or negative means
// disabled" convention.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[*Client]*rate.Limiter
}

// NewRateLimiter returns a limiter allowing rpm requests per minute per
// connection, with a bucket of burst tokens so up to burst requests pass at
// once before the per-minute rate applies.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{rpm: rpm, burst: burst, limiters: map[*Client]*rate.Limiter{}}
}

// Enabled reports whether this limiter actually throttles anything.
func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow consumes one token for c's bucket, creating it on first use.
func (r *RateLimiter) Allow(c *Client) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	l, ok := r.limiters[c]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)
		r.limiters[c] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// Forget releases the bucket for a disconnected client.
func (r *RateLimiter) Forget(c *Client) {
	r.mu.Lock()
	delete(r.limiters, c)
	r.mu.Unlock()
}

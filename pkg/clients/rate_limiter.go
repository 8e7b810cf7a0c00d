// Package clients provides rate limiting for provider API calls
package clients

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// RateLimiter paces outgoing requests with a token bucket.
type RateLimiter struct {
	limiter *rate.Limiter

	allowed int64
	waited  int64
}

// RateLimiterStats reports how many requests went through and how many had to wait.
type RateLimiterStats struct {
	Rate            float64 `json:"rate"`
	Burst           int     `json:"burst"`
	AllowedRequests int64   `json:"allowed_requests"`
	DelayedRequests int64   `json:"delayed_requests"`
}

// NewRateLimiter creates a limiter allowing perSec requests per second with the
// given burst. A non-positive perSec disables limiting.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if !rl.limiter.Allow() {
		atomic.AddInt64(&rl.waited, 1)
		if err := rl.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait aborted")
		}
	}
	atomic.AddInt64(&rl.allowed, 1)
	return nil
}

// SetRate updates the limit. Providers that return Retry-After hints use it to slow down.
func (rl *RateLimiter) SetRate(perSec float64) {
	if perSec <= 0 {
		rl.limiter.SetLimit(rate.Inf)
		return
	}
	rl.limiter.SetLimit(rate.Limit(perSec))
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		Rate:            float64(rl.limiter.Limit()),
		Burst:           rl.limiter.Burst(),
		AllowedRequests: atomic.LoadInt64(&rl.allowed),
		DelayedRequests: atomic.LoadInt64(&rl.waited),
	}
}

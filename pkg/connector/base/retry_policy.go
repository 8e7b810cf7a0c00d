package base

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// RetryPolicy defines bounded exponential backoff for provider calls
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to ShouldRetry from this package.
	ShouldRetry func(error) bool
	// OnRetry is called before each backoff sleep
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The error of the last attempt is returned with its
// type preserved and an "attempts" detail.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	shouldRetry := rp.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = ShouldRetry
	}
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}

		delay := rp.delayFor(attempt, err)
		if rp.OnRetry != nil {
			rp.OnRetry(attempt+1, delay, err)
		}
		if err := rp.wait(ctx, delay); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "retry cancelled")
		}
	}

	if attempts > 1 && shouldRetry(lastErr) {
		return errors.Wrap(lastErr, errors.TypeOf(lastErr), "retries exhausted").
			WithDetail("attempts", attempts)
	}
	return lastErr
}

func (rp *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if rp.sleep != nil {
		return rp.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delayFor honors a provider Retry-After hint when it is longer than the
// computed backoff, capped at MaxDelay.
func (rp *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	delay := rp.calculateDelay(attempt)
	var e *errors.Error
	if errors.As(err, &e) {
		if hint, ok := e.Details["retry_after"].(time.Duration); ok && hint > delay {
			delay = hint
		}
	}
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return delay
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	multiplier := rp.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	clone := *rp
	return &clone
}

// WithMaxAttempts returns a new policy with updated max attempts
func (rp *RetryPolicy) WithMaxAttempts(attempts int) *RetryPolicy {
	policy := rp.Clone()
	policy.MaxAttempts = attempts
	return policy
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, max time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}

// WithMultiplier returns a new policy with updated multiplier
func (rp *RetryPolicy) WithMultiplier(multiplier float64) *RetryPolicy {
	policy := rp.Clone()
	policy.Multiplier = multiplier
	return policy
}

// WithRandomization returns a new policy with updated randomization
func (rp *RetryPolicy) WithRandomization(factor float64) *RetryPolicy {
	policy := rp.Clone()
	policy.RandomizeFactor = factor
	return policy
}

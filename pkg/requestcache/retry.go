package requestcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// RetryPolicy configures how Fetch retries a failing producer.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the first call).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry.
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// NoRetry calls the producer once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// retryable is implemented by errors that know whether repeating the
// operation can help, such as *upstream.FetchError.
type retryable interface {
	Retryable() bool
}

// shouldRetry reports whether err is worth another attempt. Errors that do
// not classify themselves are retried; cancellation never is.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// retryWithBackoff calls fn until it succeeds, returns an error that is not
// worth retrying, or policy.MaxAttempts is reached. onRetry runs before every
// retry. Waits use exponential backoff with ±20% jitter.
func (c *Cache) retryWithBackoff(ctx context.Context, key string, policy RetryPolicy, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffMultiplier < 1 {
		policy.BackoffMultiplier = 1
	}

	var lastErr error
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("key", key).
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err) || policy.MaxAttempts == 1 {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= policy.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(c.name).Inc()
		onRetry(attempt, err)

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		if policy.MaxBackoff > 0 && jitter > policy.MaxBackoff {
			jitter = policy.MaxBackoff
		}
		retryBackoffSeconds.WithLabelValues(c.name).Observe(jitter.Seconds())

		c.logger.Warn().
			Err(err).
			Str("key", key).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying fetch after backoff")

		if jitter > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			case <-c.clock.After(jitter):
			}
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(c.name).Inc()
	c.logger.Warn().
		Str("key", key).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.MaxAttempts, lastErr)
}

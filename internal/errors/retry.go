package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for external calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// JitterFrac scales each delay by a random factor in
	// [1-JitterFrac, 1+JitterFrac].
	JitterFrac float64
}

// DefaultRetryConfig returns the retry policy for external calls:
// 3 attempts, 500 ms base delay, exponential backoff, ±20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		JitterFrac:  0.2,
	}
}

// Retry executes fn with exponential backoff.
// Only errors classified retryable (see IsRetryable) are retried;
// permanent errors propagate immediately. If the context is
// cancelled, the context error is returned at once.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.JitterFrac > 0 {
			factor := 1 + cfg.JitterFrac*(2*rand.Float64()-1)
			wait = time.Duration(float64(delay) * factor)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if cfg.Multiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
	}

	if IsRetryable(lastErr) {
		return fmt.Errorf("exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
	}
	return lastErr
}

// RetryWithResult executes a function returning a value with the same
// retry policy as Retry.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

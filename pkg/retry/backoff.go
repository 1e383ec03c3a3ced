// Package retry provides exponential backoff retry logic with jitter.
//
// The routing pipeline uses it for transient failures of external
// collaborators, primarily the AI classification service and the Postgres
// tenant store. Jitter prevents synchronized retries when many messages hit
// the same failing dependency at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      2,
	}
}

// ExponentialBackoff returns the delay function for a config: attempt n
// waits InitialInterval * Multiplier^(n-1), capped at MaxInterval, with
// optional jitter in [delay/2, delay).
func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))
		if interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}
		duration := time.Duration(interval)

		if config.Jitter && duration > 1 {
			jitter := time.Duration(rand.Int63n(int64(duration / 2)))
			duration = duration/2 + jitter
		}

		return duration
	}
}

type RetryableFunc func() error

// WithRetry runs fn up to MaxRetries+1 times, sleeping with backoff between
// attempts. A context cancellation during the wait aborts immediately, so a
// caller's deadline always wins over the retry schedule.
func WithRetry(ctx context.Context, fn RetryableFunc, config BackoffConfig) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	var attempts int
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if IsStopError(err) {
			var stopErr StopError
			errors.As(err, &stopErr)
			return stopErr.Err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// StopError wraps an error to indicate that retries should stop immediately,
// e.g. a permanent authentication failure against the AI service.
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error so WithRetry halts instead of retrying.
func Stop(err error) error {
	return StopError{Err: err}
}

// IsStopError checks if an error is a StopError.
func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}

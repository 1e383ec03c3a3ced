package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          false,
		MaxRetries:      2,
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("still broken")
	err := WithRetry(context.Background(), func() error {
		calls++
		return sentinel
	}, fastConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls) // MaxRetries=2 means 3 attempts total
}

func TestWithRetryStopErrorHaltsImmediately(t *testing.T) {
	calls := 0
	permanent := errors.New("bad credentials")
	err := WithRetry(context.Background(), func() error {
		calls++
		return Stop(permanent)
	}, fastConfig())
	require.Error(t, err)
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	}, fastConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoffGrowthAndCap(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     300 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          false,
	}
	backoff := ExponentialBackoff(cfg)

	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 300*time.Millisecond, backoff(3))
	assert.Equal(t, 300*time.Millisecond, backoff(10))
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
	backoff := ExponentialBackoff(cfg)

	for i := 0; i < 50; i++ {
		d := backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestIsStopError(t *testing.T) {
	assert.True(t, IsStopError(Stop(errors.New("x"))))
	assert.False(t, IsStopError(errors.New("x")))
	assert.True(t, IsStopError(Stop(errors.New("wrapped"))))
}

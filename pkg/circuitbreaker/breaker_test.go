package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		Name:        "test",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := New(testSettings())

	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(testSettings())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Further calls are rejected without running the wrapped function.
	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Zero(t, calls)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := New(testSettings())
	boom := errors.New("boom")

	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := New(testSettings())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	// A successful probe closes the breaker again.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(testSettings())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	cb := New(testSettings())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	blocked := make(chan struct{})
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		go cb.Execute(func() error {
			blocked <- struct{}{}
			<-release
			return nil
		})
	}
	<-blocked
	<-blocked

	// Both probe slots are taken; a third request is rejected.
	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(ErrCircuitBreakerOpen))
	assert.True(t, IsRejection(ErrTooManyRequests))
	assert.False(t, IsRejection(errors.New("boom")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "OPEN", StateOpen.String())
}

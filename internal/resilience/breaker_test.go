// ABOUTME: Tests for circuit breaker state transitions
// ABOUTME: Covers open threshold, rejection, half-open probe, close and re-open

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// newBreakerAt returns a breaker with a controllable clock.
func newBreakerAt(threshold int, recovery time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker("test", threshold, recovery)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b, _ := newBreakerAt(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.Equal(t, StateClosed, b.State())
		err := b.Do(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newBreakerAt(1, time.Minute)

	require.Error(t, b.Do(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Do(func() error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, invoked)
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b, now := newBreakerAt(1, time.Minute)

	require.Error(t, b.Do(func() error { return errBoom }))

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	invoked := false
	err := b.Do(func() error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newBreakerAt(1, time.Minute)

	require.Error(t, b.Do(func() error { return errBoom }))

	*now = now.Add(2 * time.Minute)
	err := b.Do(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)

	// Re-opened: the next call is rejected outright
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newBreakerAt(3, time.Minute)

	require.Error(t, b.Do(func() error { return errBoom }))
	require.Error(t, b.Do(func() error { return errBoom }))
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, 0, b.FailureCount())

	// Two more failures do not reach the threshold after the reset
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Error(t, b.Do(func() error { return errBoom }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_LateFailureDoesNotReleaseProbeSlot(t *testing.T) {
	b, now := newBreakerAt(3, time.Minute)

	// A slow call admitted while the breaker is still closed
	lateStarted := make(chan struct{})
	lateRelease := make(chan struct{})
	lateDone := make(chan error, 1)
	go func() {
		lateDone <- b.Do(func() error {
			close(lateStarted)
			<-lateRelease
			return errBoom
		})
	}()
	<-lateStarted

	for i := 0; i < 3; i++ {
		require.Error(t, b.Do(func() error { return errBoom }))
	}
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Minute)

	// The probe slot is taken and held
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Do(func() error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()
	<-probeStarted

	// The stale call now fails; it must not touch the probe slot
	close(lateRelease)
	require.ErrorIs(t, <-lateDone, errBoom)

	*now = now.Add(2 * time.Minute)
	invoked := false
	err := b.Do(func() error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, invoked, "second probe admitted while the first is in flight")

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistry_OneBreakerPerResource(t *testing.T) {
	r := NewRegistry(1, time.Minute)

	require.Error(t, r.Do("line", func() error { return errBoom }))

	// line is open, telegram is untouched
	assert.ErrorIs(t, r.Do("line", func() error { return nil }), ErrBreakerOpen)
	assert.NoError(t, r.Do("telegram", func() error { return nil }))

	states := r.States()
	assert.Equal(t, StateOpen, states["line"])
	assert.Equal(t, StateClosed, states["telegram"])
}

// ABOUTME: Tests for the backoff retry helper and transient classification
// ABOUTME: Verifies delay doubling, retry caps and non-transient short-circuit

package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_DelayDoublesPerAttempt(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
}

func TestRetry_StopsOnNonTransientError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0

	err := Retry(t.Context(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientUpToCap(t *testing.T) {
	calls := 0

	err := Retry(t.Context(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return NewTransientHTTPError(503, "unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0

	err := Retry(t.Context(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return NewTransientHTTPError(500, "oops")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_CancelledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, func() error {
		calls++
		return NewTransientHTTPError(500, "oops")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("validation failed")))
	assert.False(t, IsTransient(ErrBreakerOpen))
	assert.True(t, IsTransient(NewTransientHTTPError(502, "bad gateway")))
	assert.True(t, IsTransient(&net.DNSError{Err: "timeout", IsTimeout: true}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}

func TestCheckResponse(t *testing.T) {
	ok := &http.Response{StatusCode: 200}
	assert.NoError(t, CheckResponse(ok, nil))

	server := &http.Response{StatusCode: 503}
	assert.True(t, IsTransient(CheckResponse(server, []byte("down"))))

	limited := &http.Response{StatusCode: 429}
	assert.True(t, IsTransient(CheckResponse(limited, nil)))

	client := &http.Response{StatusCode: 400}
	err := CheckResponse(client, []byte("bad payload"))
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

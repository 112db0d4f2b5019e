// ABOUTME: Exponential backoff retry helper with transient error classification
// ABOUTME: Used by adapters and outbound HTTP callers for network-class failures

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// transientError marks an HTTP response as retryable (5xx, 429).
type transientError struct {
	statusCode int
	body       string
}

func (e *transientError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// NewTransientHTTPError wraps a retryable HTTP status as a transient error.
func NewTransientHTTPError(statusCode int, body string) error {
	return &transientError{statusCode: statusCode, body: body}
}

// IsTransient reports whether err is a network-class failure worth retrying:
// connection errors, timeouts, and 5xx/429 responses. Breaker rejections are
// not transient; the breaker already decided the dependency is down.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// RetryPolicy describes a bounded exponential backoff schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff before retrying after the given zero-based
// attempt number: base_delay * 2^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Retry runs fn up to MaxAttempts times, sleeping the policy's backoff
// between attempts. Only transient errors are retried; the first
// non-transient error is returned immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("exhausted %d attempts: %w", policy.MaxAttempts, lastErr)
}

// CheckResponse converts a retryable HTTP status into a transient error and
// any other non-2xx status into a permanent one. The body is truncated so
// error text stays log-sized.
func CheckResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	text := string(body)
	if len(text) > 200 {
		text = text[:200]
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return NewTransientHTTPError(resp.StatusCode, text)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
}

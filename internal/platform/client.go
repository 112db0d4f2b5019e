// ABOUTME: Shared outbound HTTP client for platform API calls
// ABOUTME: Wraps every call in a per-platform circuit breaker and backoff retry

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyon-health/relay/internal/resilience"
)

// Client performs platform API calls with a fixed timeout, a circuit
// breaker per platform, and bounded retry on network-class failures.
// One failing platform cannot be hammered by many concurrent callers.
type Client struct {
	http     *http.Client
	breakers *resilience.Registry
	retry    resilience.RetryPolicy
	logger   *slog.Logger
}

// NewClient creates the outbound client.
func NewClient(timeout time.Duration, breakers *resilience.Registry, retry resilience.RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		breakers: breakers,
		retry:    retry,
		logger:   logger.With("component", "platform_client"),
	}
}

// PostJSON sends a JSON body and returns the response body. resource names
// the breaker guarding the dependency (normally the platform name).
func (c *Client) PostJSON(ctx context.Context, resource, url, bearer string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var respBody []byte
	err = resilience.Retry(ctx, c.retry, func() error {
		return c.breakers.Do(resource, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			if bearer != "" {
				req.Header.Set("Authorization", "Bearer "+bearer)
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if err := resilience.CheckResponse(resp, data); err != nil {
				return err
			}
			respBody = data
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// GetJSON fetches a URL and returns the response body.
func (c *Client) GetJSON(ctx context.Context, resource, url, bearer string) ([]byte, error) {
	var respBody []byte
	err := resilience.Retry(ctx, c.retry, func() error {
		return c.breakers.Do(resource, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			if bearer != "" {
				req.Header.Set("Authorization", "Bearer "+bearer)
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if err := resilience.CheckResponse(resp, data); err != nil {
				return err
			}
			respBody = data
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

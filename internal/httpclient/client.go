// Package httpclient provides a minimal HTTP client for source connectors.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// maxResponseSize caps response bodies at 10 MiB.
const maxResponseSize = 10 * 1024 * 1024

// Client fetches URLs and returns the response body.
type Client interface {
	// Get performs a GET request and returns the body. Non-2xx responses
	// are returned as *HTTPError.
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the standard Client implementation.
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a client with the given timeout; zero means the
// package default.
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get implements Client.
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp.StatusCode, url, http.StatusText(resp.StatusCode))
	}

	return body, nil
}

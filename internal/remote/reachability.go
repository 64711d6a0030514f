package remote

import (
	"context"
	"net/http"
	"time"
)

// HTTPChecker probes the remote base URL to decide whether a sync attempt is
// worth making, mirroring the platform connectivity check on mobile.
type HTTPChecker struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPChecker creates a reachability checker against baseURL.
func NewHTTPChecker(baseURL string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPChecker{
		url:     baseURL,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Reachable reports whether the remote endpoint answers at all. Any HTTP
// response counts; only transport-level failure means unreachable.
func (c *HTTPChecker) Reachable(ctx context.Context) bool {
	if c.url == "" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

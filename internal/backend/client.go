package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
)

const requestTimeout = 5 * time.Second

// ThrottledError is returned when the backend asks to slow down
// It is a transient failure: the same request may succeed after RetryAfter
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("request throttled, retry after %s", e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error {
	return apperrors.ErrTransientNetwork
}

// Shared request plumbing of the auth and api clients
type client struct {
	addr   string
	http   *http.Client
	logger logger.Logger
}

// Send request with JSON body (if any) and return response with status already checked against transport errors
func (c *client) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Request failed before response", "path", path, "error", err)
		return nil, fmt.Errorf("%w: failed to send request: %w", apperrors.ErrTransientNetwork, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		defer resp.Body.Close() // nolint:errcheck
		return nil, c.throttled(resp)
	}

	return resp, nil
}

func (c *client) throttled(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	c.logger.Warn("Backend throttled", "retry_after", retryAfter)
	return &ThrottledError{RetryAfter: time.Duration(retryAfter) * time.Second}
}

func (c *client) decode(resp *http.Response, v any) error {
	err := json.NewDecoder(resp.Body).Decode(v)
	if err != nil {
		c.logger.Warn("Failed to decode response", "error", err)
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Read server 'detail' message, body is consumed
func readDetail(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ""
	}

	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Detail == nil {
		return strings.TrimSpace(string(raw))
	}

	switch d := body.Detail.(type) {
	case string:
		return d
	default:
		// e.g. list of password validation messages
		b, _ := json.Marshal(d)
		return string(b)
	}
}

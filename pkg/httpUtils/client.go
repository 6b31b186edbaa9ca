package http_utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benmeehan/display-agent/pkg/encryption"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

// APIClient performs JSON requests against the cloud API and tracks how many
// are in flight so callers can avoid stacking TLS sessions.
type APIClient struct {
	http      *http.Client
	signer    encryption.RequestSigner
	userAgent string
	token     string
	inFlight  atomic.Int32
}

// NewAPIClient creates a client. signer may be nil.
func NewAPIClient(timeout time.Duration, signer encryption.RequestSigner, userAgent string) *APIClient {
	return &APIClient{
		http:      &http.Client{Timeout: timeout},
		signer:    signer,
		userAgent: userAgent,
	}
}

// SetBearerToken adds an Authorization header to every request.
func (c *APIClient) SetBearerToken(token string) {
	c.token = token
}

// InFlight reports whether any request is outstanding.
func (c *APIClient) InFlight() bool {
	return c.inFlight.Load() > 0
}

func (c *APIClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.signer != nil {
		c.signer.SignRequest(req, body)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *APIClient) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON sends payload as JSON. out may be nil.
func (c *APIClient) PostJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, out)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

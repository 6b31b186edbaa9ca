package http_utils

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/benmeehan/display-agent/pkg/transfer"
)

const (
	defaultDialTimeout           = 15 * time.Second
	defaultTLSHandshakeTimeout   = 15 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second
)

// StreamOptions bound connection setup. Zero values take the defaults.
type StreamOptions struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// StreamOpener opens firmware downloads over HTTP(S).
type StreamOpener struct {
	client    *http.Client
	userAgent string
}

// NewStreamOpener creates an opener. Connecting and waiting for response
// headers are bounded; the body is not, since stalls are detected by the
// transfer engine.
func NewStreamOpener(userAgent string, opts StreamOptions) *StreamOpener {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.TLSHandshakeTimeout <= 0 {
		opts.TLSHandshakeTimeout = defaultTLSHandshakeTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &StreamOpener{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

func (o *StreamOpener) Open(ctx context.Context, url string) (transfer.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download %s, received status code: %d", url, resp.StatusCode)
	}

	return transfer.NewReaderStream(resp.Body, resp.ContentLength), nil
}

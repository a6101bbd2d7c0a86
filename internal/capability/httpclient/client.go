// Package httpclient implements capability.HTTPClient over net/http,
// grounded on the teacher's runtime/a2a/httpclient.Client: a functional-
// options wrapper around a *http.Client with static default headers.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// Option configures a Client.
type Option func(*Client)

// Client implements capability.HTTPClient for webhook delivery (§4.10) and
// image rehosting (§4.8).
type Client struct {
	http    *http.Client
	headers http.Header
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a static header sent on every outgoing request, in
// addition to any per-call headers passed to Do.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// New constructs a Client with a 30-second default timeout, matching the
// teacher's a2a httpclient default.
func New(opts ...Option) *Client {
	cl := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl
}

var _ capability.HTTPClient = (*Client)(nil)

func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("httpclient: build request %s %s: %w", method, url, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("httpclient: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("httpclient: read response body from %s: %w", url, err)
	}
	return resp.StatusCode, respBody, nil
}

// SPDX-License-Identifier: AGPL-3.0-only

// Package fetch performs the outbound HTTP GET for a task.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"upi/internal/apperr"
)

// Options tunes the client. The zero value matches the historical behavior:
// default transport, no timeout, no rate limit.
type Options struct {
	UserAgent  string
	Timeout    time.Duration // 0 = no timeout
	RatePerSec float64       // 0 = unlimited
}

// Client issues one GET per Fetch call, identifying itself with a fixed
// User-Agent. Any non-2xx response is a status failure; anything below the
// HTTP layer is a transport failure.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// New creates a fetch client.
func New(opts Options) *Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = "upi/dev"
	}
	c := &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: ua,
	}
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return c
}

// Fetch implements model.Fetcher.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.FetchTransport(url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.FetchTransport(url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.FetchTransport(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.FetchStatus(url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.FetchTransport(url, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

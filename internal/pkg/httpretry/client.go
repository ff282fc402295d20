// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff and full jitter. It is used for outbound calls to third-party
// hosts, such as fetching link previews.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/messaging/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries transient failures of an underlying Doer.
type Client struct {
	doer       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBackoff sets the base and maximum delay between attempts.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// New wraps doer. A nil doer gets an http.Client with a 30s timeout;
// maxRetries below zero is treated as zero (one attempt only).
func New(doer Doer, maxRetries int, opts ...Option) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	c := &Client{
		doer:       doer,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
		log:        logger.Named("httpretry"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req, retrying network errors and 429/5xx responses. Client
// errors and context cancellation are returned immediately. The final
// retryable response is returned as-is so callers can inspect it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset body: %w", err)
				}
				req.Body = body
			}
			delay := c.delay(attempt)
			c.log.Debug("retrying request", "attempt", attempt, "max", c.maxRetries,
				"host", req.URL.Host, "wait", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, ctx.Err()
			}
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// delay is random(0, min(maxDelay, baseDelay*2^(attempt-1))), floored at
// a tenth of baseDelay.
func (c *Client) delay(attempt int) time.Duration {
	exp := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(c.maxDelay) {
		exp = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := c.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

// Retryable reports whether a status code is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

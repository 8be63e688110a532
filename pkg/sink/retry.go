package sink

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultRetries   = 3
	defaultRetryBase = 300 * time.Millisecond
	defaultRetryMax  = 5 * time.Second

	// Smallest delay honored when a server advertises a zero or negative
	// retry hint.
	minRetryDelay = time.Millisecond
)

// RetryConfig bounds how long a single batch may occupy the flush cycle.
// Retry state never survives past one batch's resolution.
type RetryConfig struct {
	Retries int
	Base    time.Duration
	Max     time.Duration
	Jitter  bool
}

// DefaultRetryConfig returns the retry defaults: 3 retries, 300ms base,
// 5s cap, jitter on.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Retries: defaultRetries, Base: defaultRetryBase, Max: defaultRetryMax, Jitter: true}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	if c.Base <= 0 {
		c.Base = defaultRetryBase
	}
	if c.Max <= 0 {
		c.Max = defaultRetryMax
	}
	return c
}

// RetryableStatus reports whether a response status warrants retrying the
// same batch: request-timeout, too-early, too-many-requests, or any server
// error. Payload-too-large is deliberately absent; it is handled by the
// one-shot downshift, not the retry loop.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}

// checkRetry is the retryablehttp CheckRetry policy: retry on transport
// errors and retryable statuses, stop on everything else so the caller can
// classify the final response.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return RetryableStatus(resp.StatusCode), nil
}

// Backoff computes the delay before the given 1-based attempt is retried:
// min(Max, Base*2^(attempt-1)), randomized within a half-to-full window
// when jitter is enabled.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.Base << uint(attempt-1)
	if d > c.Max || d <= 0 {
		d = c.Max
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
	}
	return d
}

// retryAfterDelay resolves the wait before a retry, honoring the server's
// Retry-After hint over the computed backoff. Both the seconds-integer and
// HTTP-date forms are supported; an unparseable or past date falls back to
// the computed delay, and a zero-or-negative hint clamps to a minimal
// positive delay.
func retryAfterDelay(resp *http.Response, computed time.Duration) time.Duration {
	if resp == nil {
		return computed
	}
	hint := resp.Header.Get("Retry-After")
	if hint == "" {
		return computed
	}

	if secs, err := strconv.Atoi(hint); err == nil {
		if secs <= 0 {
			return minRetryDelay
		}
		return time.Duration(secs) * time.Second
	}

	when, err := http.ParseTime(hint)
	if err != nil {
		return computed
	}
	delta := time.Until(when)
	if delta <= 0 {
		return computed
	}
	return delta
}

// httpBackoff adapts the policy to retryablehttp's Backoff signature, whose
// attemptNum is zero-based for the first retry.
func (c RetryConfig) httpBackoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	return retryAfterDelay(resp, c.Backoff(attemptNum+1))
}

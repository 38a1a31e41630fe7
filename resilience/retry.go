// Package resilience wraps single HTTP round-trips with bounded retries.
// Transient failures (429, 5xx, network errors, and the explorer's
// rate-limit payload carried in a 200 response) are retried with
// exponential backoff and jitter; everything else surfaces to the caller.
package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/metrics"
)

// Policy bounds the retry loop.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the standard provider retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Retries:   6,
		BaseDelay: 800 * time.Millisecond,
		MaxDelay:  8 * time.Second,
	}
}

const (
	jitterRange = 200 * time.Millisecond
	maxSniffLen = 1 << 20
)

// rateLimitEnvelope is the explorer's response envelope, inspected only far
// enough to recognize its "max calls per sec" payload.
type rateLimitEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Do performs call until it yields a non-retryable outcome or the policy is
// exhausted. On exhaustion the last response (or last network error) is
// surfaced verbatim; classification of non-retryable responses is the
// caller's job.
func Do(ctx context.Context, logger *zap.Logger, provider string, p Policy, call func(context.Context) (*http.Response, error)) (*http.Response, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(provider).Inc()
		}

		resp, err := call(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= p.Retries {
				return nil, err
			}
			delay := p.delayFor(attempt, nil)
			logger.Warn("request failed, retrying",
				zap.String("provider", provider),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if !isRetryable(resp) {
			return resp, nil
		}
		if attempt >= p.Retries {
			// Exhausted; the caller sees the final transient response.
			return resp, nil
		}

		delay := p.delayFor(attempt, resp)
		logger.Warn("transient response, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode),
			zap.Duration("retry_in", delay))
		resp.Body.Close()
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// isRetryable reports whether the response is a transient failure. When it
// sniffs the body it replaces resp.Body so the caller can still read it.
func isRetryable(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode >= 500 && resp.StatusCode < 600 {
		return true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	// Explorer rate limits can hide inside an HTTP 200.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSniffLen))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}

	var env rateLimitEnvelope
	if json.Unmarshal(body, &env) != nil {
		return false
	}
	if env.Status == "1" || env.Message != "NOTOK" {
		return false
	}
	var result string
	if json.Unmarshal(env.Result, &result) != nil {
		return false
	}
	return strings.Contains(strings.ToLower(result), "max calls per sec")
}

// delayFor computes the sleep before the next attempt: a clamped Retry-After
// when the provider sent one, exponential backoff otherwise, jittered.
func (p Policy) delayFor(attempt int, resp *http.Response) time.Duration {
	var delay time.Duration

	if after := retryAfter(resp); after > 0 {
		delay = after
		if delay < p.BaseDelay {
			delay = p.BaseDelay
		}
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	} else {
		delay = p.BaseDelay << uint(attempt)
		if delay > p.MaxDelay || delay <= 0 {
			delay = p.MaxDelay
		}
	}

	return delay + time.Duration(rand.Int63n(int64(jitterRange)))
}

// retryAfter parses a Retry-After header as integer seconds or HTTP-date.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

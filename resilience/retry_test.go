package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{Retries: 6, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func httpCall(url string) func(context.Context) (*http.Response, error) {
	return func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		return http.DefaultClient.Do(req)
	}
}

func TestDoReturnsSuccessImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"status":"1","message":"OK","result":[]}`))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), nil, "test", fastPolicy(), httpCall(srv.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDoRetriesOn5xxAnd429(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusBadGateway} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(status)
				return
			}
			w.Write([]byte(`ok`))
		}))

		resp, err := Do(context.Background(), nil, "test", fastPolicy(), httpCall(srv.URL))
		if err != nil {
			t.Fatalf("status %d: Do failed: %v", status, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status %d: final status = %d, want 200", status, resp.StatusCode)
		}
		if n := atomic.LoadInt32(&calls); n != 3 {
			t.Errorf("status %d: calls = %d, want 3", status, n)
		}
		resp.Body.Close()
		srv.Close()
	}
}

// An HTTP 200 carrying the explorer's rate-limit payload must be retried
// (Scenario D), and the eventual good body must remain readable.
func TestDoRetriesRateLimitPayloadInside200(t *testing.T) {
	const good = `{"status":"1","message":"OK","result":[{"logIndex":"0x1"},{"logIndex":"0x2"}]}`
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max calls per sec rate limit reached"}`))
			return
		}
		w.Write([]byte(good))
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := Do(context.Background(), nil, "test", fastPolicy(), httpCall(srv.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	// Two backoff sleeps of at least BaseDelay each must have happened.
	if elapsed := time.Since(start); elapsed < 2*time.Millisecond {
		t.Errorf("elapsed %v, expected backoff sleeps before retries", elapsed)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading final body: %v", err)
	}
	if string(body) != good {
		t.Errorf("final body = %s, want %s", body, good)
	}
}

// A body that looks rate-limited but lacks the NOTOK message is a plain
// provider error, not a transient.
func TestDoDoesNotRetryNonRateLimitErrorBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"status":"0","message":"No records found","result":[]}`))
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), nil, "test", fastPolicy(), httpCall(srv.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), nil, "test", fastPolicy(), httpCall(srv.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

// Property 8: at most Retries+1 attempts, and exhaustion surfaces the last
// transient response rather than an error.
func TestDoAttemptBoundOnPersistentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := fastPolicy()
	resp, err := Do(context.Background(), nil, "test", p, httpCall(srv.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != int32(p.Retries+1) {
		t.Errorf("calls = %d, want %d", n, p.Retries+1)
	}
}

func TestDoSurfacesLastNetworkError(t *testing.T) {
	wantErr := errors.New("connection refused")
	var calls int
	p := Policy{Retries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := Do(context.Background(), nil, "test", p, func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, nil, "test", DefaultPolicy(), func(ctx context.Context) (*http.Response, error) {
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	p := Policy{Retries: 1, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

	tests := []struct {
		name   string
		header string
		min    time.Duration
		max    time.Duration
	}{
		{"integer seconds", "1", time.Second, time.Second + jitterRange},
		{"clamped to max", "3600", 2 * time.Second, 2*time.Second + jitterRange},
		{"clamped to base", "0", 100 * time.Millisecond, 100*time.Millisecond + jitterRange},
		{"garbage falls back to backoff", "soon", 100 * time.Millisecond, 200*time.Millisecond + jitterRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			resp.Header.Set("Retry-After", tt.header)
			d := p.delayFor(0, resp)
			if d < tt.min || d > tt.max {
				t.Errorf("delay = %v, want in [%v, %v]", d, tt.min, tt.max)
			}
		})
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{Retries: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

	for _, tt := range []struct {
		attempt int
		min     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 400 * time.Millisecond}, // capped
	} {
		d := p.delayFor(tt.attempt, nil)
		if d < tt.min || d > tt.min+jitterRange {
			t.Errorf("attempt %d: delay = %v, want in [%v, %v]", tt.attempt, d, tt.min, tt.min+jitterRange)
		}
	}
}

package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestFetcher builds a Fetcher with no pacing delay and millisecond
// backoff so retry paths run fast.
func newTestFetcher(breaker *CircuitBreaker, retries int) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: time.Second},
		pacer:         NewPacer(0, 0, 1000),
		breaker:       breaker,
		userAgent:     "test-agent",
		retryAttempts: retries,
		retryBackoff:  2,
		backoffUnit:   time.Millisecond,
		log:           zerolog.Nop(),
	}
}

// ── Success path ───────────────────────────────────────────────────────────

func TestFetch_OKReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want test-agent", ua)
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	b := NewCircuitBreaker(5, time.Minute)
	f := newTestFetcher(b, 2)

	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !strings.Contains(string(body), "ok") {
		t.Errorf("body = %q, want it to contain %q", body, "ok")
	}
	if b.Failures() != 0 {
		t.Errorf("breaker failures = %d, want 0 after success", b.Failures())
	}
}

// ── Status policy ──────────────────────────────────────────────────────────

func TestFetch_NotFoundIsGoneWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(NewCircuitBreaker(5, time.Minute), 3)

	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrGone) {
		t.Fatalf("Fetch() error = %v, want ErrGone", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 404)", n)
	}
}

func TestFetch_ServerErrorRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := newTestFetcher(NewCircuitBreaker(5, time.Minute), 3)

	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if string(body) != "recovered" {
		t.Errorf("body = %q, want %q", body, "recovered")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestFetch_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(NewCircuitBreaker(100, time.Minute), 2)

	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Fetch() should fail once retries are exhausted")
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("error = %v, want a retries-exhausted error", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3 (initial + 2 retries)", n)
	}
}

func TestFetch_UnexpectedStatusRecordsBreakerFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewCircuitBreaker(5, time.Minute)
	f := newTestFetcher(b, 3)

	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Fetch() should fail on an unexpected status")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on unexpected status)", n)
	}
	if b.Failures() != 1 {
		t.Errorf("breaker failures = %d, want 1", b.Failures())
	}
}

// ── Breaker interaction ────────────────────────────────────────────────────

func TestFetch_OpenBreakerSuppressesCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	b := NewCircuitBreaker(1, time.Minute)
	b.RecordFailure()
	f := newTestFetcher(b, 3)

	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Fetch() error = %v, want ErrCircuitOpen", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server saw %d requests, want 0 while the breaker is open", n)
	}
}

// ── Backoff scaling ────────────────────────────────────────────────────────

func TestRetryDelay_Scaling(t *testing.T) {
	f := newTestFetcher(NewCircuitBreaker(5, time.Minute), 3)

	cases := []struct {
		class   failureClass
		attempt int
		want    time.Duration
	}{
		{failServer, 0, time.Millisecond},
		{failServer, 1, 2 * time.Millisecond},
		{failServer, 2, 4 * time.Millisecond},
		{failTimeout, 1, 2 * time.Millisecond},
		{failConnection, 0, 2 * time.Millisecond},
		{failConnection, 1, 4 * time.Millisecond},
		{failRateLimit, 0, 60 * time.Millisecond},
		{failRateLimit, 1, 120 * time.Millisecond},
	}
	for _, c := range cases {
		if got := f.retryDelay(c.class, c.attempt); got != c.want {
			t.Errorf("retryDelay(%d, %d) = %v, want %v", c.class, c.attempt, got, c.want)
		}
	}
}

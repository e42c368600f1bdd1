package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"jobpulse/ingest-service/internal/config"
)

var (
	// ErrGone marks an item the upstream reports as permanently gone (404).
	// Callers treat it as an absence, not a failure.
	ErrGone = errors.New("item gone")

	// ErrCircuitOpen aborts the crawl when the breaker suppresses calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// failureClass drives the backoff multiplier applied between attempts.
type failureClass int

const (
	failNone failureClass = iota
	failFatal
	failServer     // 5xx: base^attempt
	failTimeout    // request timeout: base^attempt
	failConnection // connection failure: base^attempt, doubled
	failRateLimit  // 429: base^attempt, scaled to minutes
)

// Fetcher issues paced, breaker-guarded GET requests with a bounded
// retry/backoff loop. Response policy:
//
//	200                 → body returned, success recorded on the breaker
//	404                 → ErrGone, no retry
//	429                 → backoff scaled to minutes, retry
//	500/502/503/504     → exponential backoff, retry
//	timeout             → exponential backoff, retry
//	connection failure  → exponential backoff doubled, retry
//	anything else       → failure recorded on the breaker, no retry
type Fetcher struct {
	client        *http.Client
	pacer         *Pacer
	breaker       *CircuitBreaker
	userAgent     string
	retryAttempts int
	retryBackoff  int
	backoffUnit   time.Duration
	log           zerolog.Logger
}

// NewFetcher constructs a Fetcher with a shared HTTP client.
func NewFetcher(cfg *config.Config, pacer *Pacer, breaker *CircuitBreaker, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: cfg.HTTPTimeout},
		pacer:         pacer,
		breaker:       breaker,
		userAgent:     cfg.UserAgent,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
		backoffUnit:   time.Second,
		log:           log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch retrieves target and returns the response body. It blocks on the
// pacer before every attempt, including retries.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	if !f.breaker.CanProceed() {
		return nil, ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= f.retryAttempts; attempt++ {
		if err := f.pacer.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		body, class, err := f.attempt(ctx, target)
		switch class {
		case failNone:
			return body, nil
		case failFatal:
			return nil, err
		}

		lastErr = err
		if attempt < f.retryAttempts {
			delay := f.retryDelay(class, attempt)
			f.log.Warn().Err(err).Str("url", target).
				Int("attempt", attempt+1).Dur("backoff", delay).
				Msg("retrying fetch")
			if serr := sleep(ctx, delay); serr != nil {
				return nil, serr
			}
		}
	}

	return nil, fmt.Errorf("retries exhausted for %s: %w", target, lastErr)
}

// attempt performs one request and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, target string) ([]byte, failureClass, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, failFatal, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failFatal, ctx.Err()
		}
		if isTimeout(err) {
			return nil, failTimeout, fmt.Errorf("request timeout: %w", err)
		}
		return nil, failConnection, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, failConnection, fmt.Errorf("read body: %w", readErr)
		}
		f.breaker.RecordSuccess()
		return data, failNone, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, failFatal, ErrGone

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, failRateLimit, fmt.Errorf("rate limited (429)")

	case resp.StatusCode == http.StatusInternalServerError,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, failServer, fmt.Errorf("server error (%d)", resp.StatusCode)

	default:
		f.breaker.RecordFailure()
		return nil, failFatal, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, target)
	}
}

// retryDelay is retryBackoff^attempt units, scaled per failure class.
func (f *Fetcher) retryDelay(class failureClass, attempt int) time.Duration {
	d := f.backoffUnit
	for i := 0; i < attempt; i++ {
		d *= time.Duration(f.retryBackoff)
	}
	switch class {
	case failConnection:
		return 2 * d
	case failRateLimit:
		return 60 * d
	default:
		return d
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

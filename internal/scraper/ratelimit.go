// Package scraper implements the crawl side of the pipeline: request pacing,
// failure breaking, resilient fetching, page parsing and the two-phase
// listing/detail crawl.
package scraper

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces outbound requests. Every Wait blocks for a delay drawn
// uniformly from [minDelay, maxDelay], stretched so that no two requests
// complete closer together than minDelay. It also tracks request timestamps
// in a trailing 60-second window against a per-minute cap.
type Pacer struct {
	minDelay  time.Duration
	maxDelay  time.Duration
	perMinute int

	mu       sync.Mutex
	last     time.Time
	requests []time.Time
	rand     *rand.Rand
}

// NewPacer constructs a Pacer. perMinute is the sliding-window request cap.
func NewPacer(minDelay, maxDelay time.Duration, perMinute int) *Pacer {
	return &Pacer{
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		perMinute: perMinute,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait blocks until the next request may be issued, or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay := p.minDelay
	if p.maxDelay > p.minDelay {
		delay += time.Duration(p.rand.Int63n(int64(p.maxDelay - p.minDelay + 1)))
	}
	if !p.last.IsZero() {
		if remaining := p.minDelay - time.Since(p.last); remaining > delay {
			delay = remaining
		}
	}
	p.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return err
	}

	p.mu.Lock()
	now := time.Now()
	p.last = now
	p.requests = append(p.requests, now)
	p.prune(now)
	p.mu.Unlock()
	return nil
}

// CheckRateLimit reports whether the trailing-minute request count is still
// below the configured cap. Stale entries are purged on every call.
func (p *Pacer) CheckRateLimit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune(time.Now())
	return len(p.requests) < p.perMinute
}

// WaitIfNeeded blocks in 10-second steps while the per-minute cap is hit.
func (p *Pacer) WaitIfNeeded(ctx context.Context) error {
	for !p.CheckRateLimit() {
		if err := sleep(ctx, 10*time.Second); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all pacing state.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = time.Time{}
	p.requests = nil
}

// prune drops request timestamps older than one minute. Caller holds p.mu.
func (p *Pacer) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := p.requests[:0]
	for _, t := range p.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.requests = kept
}

// sleep blocks for d or until ctx is done, whichever comes first.
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

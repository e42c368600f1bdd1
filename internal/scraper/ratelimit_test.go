package scraper_test

import (
	"context"
	"testing"
	"time"

	"jobpulse/ingest-service/internal/scraper"
)

// ── Wait ───────────────────────────────────────────────────────────────────

func TestPacer_WaitEnforcesMinimumSpacing(t *testing.T) {
	p := scraper.NewPacer(10*time.Millisecond, 20*time.Millisecond, 100)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("3 waits took %v, want at least 30ms", elapsed)
	}
}

func TestPacer_WaitHonorsContextCancel(t *testing.T) {
	p := scraper.NewPacer(time.Second, 2*time.Second, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() should fail when the context expires first")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Wait() took %v after cancellation, should return promptly", elapsed)
	}
}

// ── CheckRateLimit ─────────────────────────────────────────────────────────

func TestPacer_CheckRateLimitCap(t *testing.T) {
	p := scraper.NewPacer(0, 0, 3)

	for i := 0; i < 3; i++ {
		if !p.CheckRateLimit() {
			t.Fatalf("CheckRateLimit() false after %d requests, cap is 3", i)
		}
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}

	if p.CheckRateLimit() {
		t.Error("CheckRateLimit() should be false at the cap")
	}
}

func TestPacer_ResetClearsWindow(t *testing.T) {
	p := scraper.NewPacer(0, 0, 1)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if p.CheckRateLimit() {
		t.Fatal("cap of 1 should be hit after one request")
	}

	p.Reset()
	if !p.CheckRateLimit() {
		t.Error("CheckRateLimit() should be true after Reset")
	}
}

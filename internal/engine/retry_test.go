package engine

import (
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
)

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 10}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}

	var prev time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Decide(attempt, models.KindTransientNetwork)
		if !d.Retry {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if d.Delay < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d.Delay, prev)
		}
		if d.Delay > p.MaxDelay {
			t.Fatalf("attempt %d: delay %v above cap", attempt, d.Delay)
		}
		if d.Delay != want[attempt-1] {
			t.Fatalf("attempt %d: delay %v, want %v", attempt, d.Delay, want[attempt-1])
		}
		prev = d.Delay
	}
}

func TestBackoffDoesNotOverflow(t *testing.T) {
	p := DefaultRetryPolicy()
	if got := p.Backoff(200); got != p.MaxDelay {
		t.Fatalf("backoff(200) = %v, want %v", got, p.MaxDelay)
	}
}

func TestNonRetryableKindsGiveUp(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 1; attempt <= 5; attempt++ {
		for _, kind := range []models.ErrorKind{models.KindMalformedData, models.KindUnsupportedInstrument, models.KindInternal} {
			if d := p.Decide(attempt, kind); d.Retry {
				t.Fatalf("attempt %d kind %s: expected give up", attempt, kind)
			}
		}
	}
}

func TestRetryableKinds(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, kind := range []models.ErrorKind{models.KindTransientNetwork, models.KindRateLimited, models.KindTimeout} {
		if d := p.Decide(1, kind); !d.Retry || d.Delay != 2*time.Second {
			t.Fatalf("kind %s: got %+v", kind, d)
		}
	}
}

func TestMaxAttemptsStopsRetrying(t *testing.T) {
	p := DefaultRetryPolicy()
	if d := p.Decide(2, models.KindRateLimited); !d.Retry {
		t.Fatalf("attempt 2 should retry")
	}
	if d := p.Decide(3, models.KindRateLimited); d.Retry {
		t.Fatalf("attempt 3 of 3 should give up")
	}
}

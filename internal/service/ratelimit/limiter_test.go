package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	if !l.Allow("yahoo", 2, 1) || !l.Allow("yahoo", 2, 1) {
		t.Fatalf("burst of 2 should pass")
	}
	if l.Allow("yahoo", 2, 1) {
		t.Fatalf("third call should be limited")
	}
	now = now.Add(time.Second)
	if !l.Allow("yahoo", 2, 1) {
		t.Fatalf("token should refill after 1s")
	}
	if !l.Allow("other", 1, 1) {
		t.Fatalf("keys must be independent")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	if err := l.Wait(context.Background(), "k", 1, 0.001); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestWaitPaces(t *testing.T) {
	l := New()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), "k", 1, 50); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("three calls at 50/s finished in %v", elapsed)
	}
}

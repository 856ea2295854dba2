package engine

import (
	"context"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
)

func TestNextTickAfter(t *testing.T) {
	anchor := time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)
	iv := 15 * time.Minute
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{anchor.Add(-time.Minute), anchor},
		{anchor, anchor.Add(iv)},
		{anchor.Add(14 * time.Minute), anchor.Add(iv)},
		{anchor.Add(iv), anchor.Add(2 * iv)},
		{anchor.Add(47 * time.Minute), anchor.Add(4 * iv)},
	}
	for _, tc := range cases {
		if got := nextTickAfter(anchor, iv, tc.now); !got.Equal(tc.want) {
			t.Errorf("nextTickAfter(%v) = %v, want %v", tc.now.Sub(anchor), got.Sub(anchor), tc.want.Sub(anchor))
		}
	}
}

// Simulates interval 1 and execution 0.3 in abstract units: targets must stay
// on the anchored grid instead of accumulating execution time.
func TestSchedulingDoesNotDrift(t *testing.T) {
	anchor := time.Unix(0, 0)
	unit := time.Second
	exec := 300 * time.Millisecond

	target := anchor
	for k := 0; k < 10; k++ {
		want := anchor.Add(time.Duration(k) * unit)
		if !target.Equal(want) {
			t.Fatalf("tick %d target %v, want %v", k, target.Sub(anchor), want.Sub(anchor))
		}
		finished := target.Add(exec)
		target = nextTickAfter(anchor, unit, finished)
	}
}

func TestOverrunResynchronisesWithoutQueueing(t *testing.T) {
	anchor := time.Unix(0, 0)
	unit := time.Second
	// A cycle starting at tick 0 that runs for 2.5 units: ticks 1 and 2 are
	// skipped and the next target is tick 3.
	next := nextTickAfter(anchor, unit, anchor.Add(2500*time.Millisecond))
	if want := anchor.Add(3 * unit); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next.Sub(anchor), want.Sub(anchor))
	}
}

func TestLiveCyclesStayOnGrid(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const interval = 60 * time.Millisecond
	const exec = 20 * time.Millisecond

	sc := &stubScanner{id: "work", fn: func(context.Context, int64) ([]models.Finding, error) {
		time.Sleep(exec)
		return nil, nil
	}}
	e, pl := startEngine(t, []repository.Scanner{sc}, WithInterval(interval))
	waitFor(t, 3*time.Second, func() bool { return pl.len() >= 8 })
	anchor := e.Health().StartedAt

	for k, s := range pl.all()[:8] {
		want := anchor.Add(time.Duration(k) * interval)
		if diff := s.CycleStartedAt.Sub(want); diff < 0 || diff > exec {
			t.Fatalf("cycle %d started %v after its grid point, tolerance %v", k, diff, exec)
		}
	}
}

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

type stubScanner struct {
	id    string
	calls atomic.Int64
	fn    func(ctx context.Context, call int64) ([]models.Finding, error)
}

func (s *stubScanner) ID() string { return s.id }

func (s *stubScanner) Run(ctx context.Context, _ []string, _ models.ScannerConfig) ([]models.Finding, error) {
	n := s.calls.Add(1)
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(ctx, n)
}

func okScanner(id string, findings int) *stubScanner {
	return &stubScanner{id: id, fn: func(context.Context, int64) ([]models.Finding, error) {
		out := make([]models.Finding, findings)
		for i := range out {
			out[i] = models.Finding{Instrument: "TCS", Signal: models.SignalBullish, Kind: "Bullish Crossover", Strength: 1}
		}
		return out, nil
	}}
}

type publishLog struct {
	mu    sync.Mutex
	snaps []*models.Snapshot
}

func (p *publishLog) hook(s *models.Snapshot) {
	p.mu.Lock()
	p.snaps = append(p.snaps, s)
	p.mu.Unlock()
}

func (p *publishLog) all() []*models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Snapshot(nil), p.snaps...)
}

func (p *publishLog) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func noSleep(context.Context, time.Duration) error { return nil }

func startEngine(t *testing.T, scanners []repository.Scanner, opts ...Option) (*Engine, *publishLog) {
	t.Helper()
	base := []Option{WithInterval(time.Hour), withSleeper(noSleep)}
	e, err := New(scanners, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	pl := &publishLog{}
	e.OnPublish(pl.hook)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e, pl
}

func TestSequenceIsGapless(t *testing.T) {
	e, pl := startEngine(t, []repository.Scanner{okScanner("a", 1)}, WithInterval(15*time.Millisecond))
	waitFor(t, 2*time.Second, func() bool { return pl.len() >= 6 })
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	for i, s := range pl.all() {
		if s.Sequence != uint64(i+1) {
			t.Fatalf("snapshot %d has sequence %d", i, s.Sequence)
		}
		if s.Health.TotalCycles != s.Sequence {
			t.Fatalf("total cycles %d != sequence %d", s.Health.TotalCycles, s.Sequence)
		}
	}
}

func TestConcurrentTriggersCoalesceIntoOneCycle(t *testing.T) {
	release := make(chan struct{})
	blocking := &stubScanner{id: "slow", fn: func(ctx context.Context, call int64) ([]models.Finding, error) {
		if call == 1 {
			<-release
		}
		return nil, nil
	}}
	e, pl := startEngine(t, []repository.Scanner{blocking})
	waitFor(t, time.Second, func() bool { return e.Health().Executing })

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.TriggerManualRun(); err != nil {
				t.Errorf("trigger: %v", err)
			}
		}()
	}
	wg.Wait()
	close(release)

	waitFor(t, time.Second, func() bool { return pl.len() >= 2 })
	time.Sleep(50 * time.Millisecond)
	if n := pl.len(); n != 2 {
		t.Fatalf("published %d cycles, want 2", n)
	}
	if got := pl.all()[1].Trigger; got != models.TriggerManual {
		t.Fatalf("second cycle trigger = %q", got)
	}
}

func TestConcurrentTriggersWhileSleepingRunOneCycle(t *testing.T) {
	release := make(chan struct{})
	blocking := &stubScanner{id: "slow", fn: func(ctx context.Context, call int64) ([]models.Finding, error) {
		if call == 1 {
			<-release
		}
		return nil, nil
	}}
	e, pl := startEngine(t, []repository.Scanner{blocking}, WithRunOnStart(false))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[TriggerOutcome]int{}
	)
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := e.TriggerManualRun()
			if err != nil {
				t.Errorf("trigger: %v", err)
				return
			}
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()
	close(release)

	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := pl.len(); n != 1 {
		t.Fatalf("published %d cycles, want 1", n)
	}
	if got := pl.all()[0].Trigger; got != models.TriggerManual {
		t.Fatalf("cycle trigger = %q", got)
	}
	if blocking.calls.Load() != 1 {
		t.Fatalf("scanner ran %d times, want 1", blocking.calls.Load())
	}
	if outcomes[TriggerAccepted] != 1 || outcomes[TriggerCoalesced] != 49 {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestFailingScannerDoesNotBlockOthers(t *testing.T) {
	bad := &stubScanner{id: "bad", fn: func(context.Context, int64) ([]models.Finding, error) {
		return nil, models.MalformedData("decode", "TCS", errors.New("garbage"))
	}}
	e, pl := startEngine(t, []repository.Scanner{bad, okScanner("good", 2)})

	for i := 2; i <= 3; i++ {
		waitFor(t, time.Second, func() bool { return pl.len() >= i-1 && !e.Health().Executing })
		if _, err := e.TriggerManualRun(); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		want := i
		waitFor(t, time.Second, func() bool { return pl.len() >= want })
	}

	for _, s := range pl.all() {
		if s.Results["bad"].Error == nil || s.Results["bad"].Error.Kind != models.KindMalformedData {
			t.Fatalf("seq %d: bad scanner error = %+v", s.Sequence, s.Results["bad"].Error)
		}
		if s.Results["bad"].Attempts != 1 {
			t.Fatalf("malformed data retried: %d attempts", s.Results["bad"].Attempts)
		}
		if len(s.Results["good"].Findings) != 2 || s.Results["good"].Error != nil {
			t.Fatalf("seq %d: good scanner result = %+v", s.Sequence, s.Results["good"])
		}
	}
	last := pl.all()[2]
	if last.Health.ConsecutiveFailures["bad"] != 3 || last.Health.ConsecutiveFailures["good"] != 0 {
		t.Fatalf("consecutive failures = %v", last.Health.ConsecutiveFailures)
	}
	if last.Health.TotalErrors != 3 {
		t.Fatalf("total errors = %d", last.Health.TotalErrors)
	}
	if _, ok := last.Health.LastSuccessAt["bad"]; ok {
		t.Fatalf("bad scanner has a last success")
	}
	if len(last.Health.RecentErrors) != 3 {
		t.Fatalf("recent errors = %d", len(last.Health.RecentErrors))
	}
}

func TestTransientFailuresRetriedWithinCycle(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	record := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	b := &stubScanner{id: "B", fn: func(_ context.Context, call int64) ([]models.Finding, error) {
		if call <= 2 {
			return nil, models.TransientNetwork("fetch", errors.New("connection reset"))
		}
		return []models.Finding{{Instrument: "INFY", Signal: models.SignalBearish, Strength: 3}}, nil
	}}
	_, pl := startEngine(t, []repository.Scanner{okScanner("A", 1), b}, withSleeper(record))
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })

	s := pl.all()[0]
	if got := len(s.Results["A"].Findings); got != 1 {
		t.Fatalf("A findings = %d, want 1", got)
	}
	rb := s.Results["B"]
	if rb.Error != nil {
		t.Fatalf("B error = %+v, want none", rb.Error)
	}
	if rb.Attempts != 3 || len(rb.Findings) != 1 {
		t.Fatalf("B result = %+v", rb)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("backoff delays = %v, want [2s 4s]", delays)
	}
}

func TestRetriesExhaustedRecordsLastKind(t *testing.T) {
	limited := &stubScanner{id: "limited", fn: func(context.Context, int64) ([]models.Finding, error) {
		return nil, models.RateLimited("fetch", nil)
	}}
	_, pl := startEngine(t, []repository.Scanner{limited})
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })

	r := pl.all()[0].Results["limited"]
	if r.Error == nil || r.Error.Kind != models.KindRateLimited || r.Attempts != 3 {
		t.Fatalf("result = %+v", r)
	}
	if limited.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", limited.calls.Load())
	}
}

func TestScannerBudgetStopsRetries(t *testing.T) {
	flaky := &stubScanner{id: "flaky", fn: func(context.Context, int64) ([]models.Finding, error) {
		return nil, models.TransientNetwork("fetch", errors.New("connection reset"))
	}}
	_, pl := startEngine(t, []repository.Scanner{flaky, okScanner("ok", 1)},
		withSleeper(sleepCtx),
		WithScannerBudget(150*time.Millisecond),
		WithRetryPolicy(RetryPolicy{BaseDelay: 60 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}),
	)
	waitFor(t, 2*time.Second, func() bool { return pl.len() >= 1 })

	s := pl.all()[0]
	r := s.Results["flaky"]
	if r.Error == nil || r.Error.Kind != models.KindTransientNetwork {
		t.Fatalf("flaky result = %+v", r)
	}
	// 60ms backoff fits the budget, the following 120ms does not.
	if r.Attempts != 2 || flaky.calls.Load() != 2 {
		t.Fatalf("attempts = %d, calls = %d, want 2", r.Attempts, flaky.calls.Load())
	}
	if r.Duration >= 150*time.Millisecond {
		t.Fatalf("flaky scanner ran %v, past its budget", r.Duration)
	}
	if len(s.Results["ok"].Findings) != 1 || s.Results["ok"].Error != nil {
		t.Fatalf("sibling result = %+v", s.Results["ok"])
	}
}

func TestHungScannerIsAbandoned(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	hung := &stubScanner{id: "hung", fn: func(context.Context, int64) ([]models.Finding, error) {
		<-hang
		return nil, nil
	}}
	_, pl := startEngine(t, []repository.Scanner{hung, okScanner("ok", 1)},
		WithScannerTimeout(20*time.Millisecond),
		WithRetryPolicy(RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 1}),
	)
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })

	s := pl.all()[0]
	if s.Results["hung"].Error == nil || s.Results["hung"].Error.Kind != models.KindTimeout {
		t.Fatalf("hung result = %+v", s.Results["hung"])
	}
	if len(s.Results["ok"].Findings) != 1 {
		t.Fatalf("ok scanner starved: %+v", s.Results["ok"])
	}
}

func TestStopFreezesSnapshot(t *testing.T) {
	e, pl := startEngine(t, []repository.Scanner{okScanner("a", 1)}, WithInterval(10*time.Millisecond))
	waitFor(t, time.Second, func() bool { return pl.len() >= 2 })

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	before, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	after, _ := e.Snapshot()
	if before != after || after.Sequence != before.Sequence {
		t.Fatalf("snapshot changed after stop: %d -> %d", before.Sequence, after.Sequence)
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := e.TriggerManualRun(); !errors.Is(err, models.ErrNotStarted) {
		t.Fatalf("trigger after stop: %v", err)
	}
	if h := e.Health(); h.State != StateStopped || !h.NextRunAt.IsZero() {
		t.Fatalf("health after stop = %+v", h)
	}
}

func TestStartTwiceFails(t *testing.T) {
	e, _ := startEngine(t, []repository.Scanner{okScanner("a", 0)})
	if err := e.Start(context.Background()); !errors.Is(err, models.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestCancelledContextAllowsRestart(t *testing.T) {
	e, err := New([]repository.Scanner{okScanner("a", 1)}, nil, WithInterval(time.Hour), withSleeper(noSleep))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pl := &publishLog{}
	e.OnPublish(pl.hook)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })
	cancel()

	waitFor(t, time.Second, func() bool { return e.Health().State == StateStopped })
	if _, err := e.TriggerManualRun(); !errors.Is(err, models.ErrNotStarted) {
		t.Fatalf("trigger after cancel: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.Start(context.Background()) == nil })
	waitFor(t, time.Second, func() bool { return pl.len() >= 2 })
	if got := pl.all()[1].Sequence; got != 2 {
		t.Fatalf("sequence after restart = %d, want 2", got)
	}
}

func TestTriggerBeforeStart(t *testing.T) {
	e, err := New([]repository.Scanner{okScanner("a", 0)}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.TriggerManualRun(); !errors.Is(err, models.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := e.Snapshot(); !errors.Is(err, models.ErrNoDataYet) {
		t.Fatalf("expected ErrNoDataYet, got %v", err)
	}
}

func TestDuplicateScannerIDs(t *testing.T) {
	if _, err := New([]repository.Scanner{okScanner("a", 0), okScanner("a", 0)}, nil); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestDisabledScannerSkippedNextCycle(t *testing.T) {
	e, pl := startEngine(t, []repository.Scanner{okScanner("a", 1), okScanner("b", 1)})
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 && !e.Health().Executing })

	if _, err := e.UpdateScannerConfig("b", func(c *models.ScannerConfig) { c.Enabled = false }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := e.UpdateScannerConfig("zzz", func(*models.ScannerConfig) {}); !errors.Is(err, models.ErrUnknownScanner) {
		t.Fatalf("expected ErrUnknownScanner, got %v", err)
	}
	if _, err := e.TriggerManualRun(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pl.len() >= 2 })

	s := pl.all()[1]
	if _, ok := s.Results["b"]; ok {
		t.Fatalf("disabled scanner ran")
	}
	if _, ok := s.Results["a"]; !ok {
		t.Fatalf("enabled scanner missing")
	}
}

func TestMarketClosedSkipsScheduledTicks(t *testing.T) {
	saturday := func() time.Time { return time.Date(2024, 5, 4, 11, 0, 0, 0, util.IST) }
	e, pl := startEngine(t, []repository.Scanner{okScanner("a", 1)},
		WithMarketHoursOnly(util.NSESession()),
		WithClock(saturday),
	)
	waitFor(t, time.Second, func() bool { return e.Health().SkippedTicks >= 1 })
	if _, err := e.Snapshot(); !errors.Is(err, models.ErrNoDataYet) {
		t.Fatalf("expected no data, got %v", err)
	}
	if h := e.Health(); h.MarketOpen {
		t.Fatalf("market reported open on saturday")
	}

	if _, err := e.TriggerManualRun(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, time.Second, func() bool { return pl.len() == 1 })
	if s := pl.all()[0]; s.Sequence != 1 || s.Trigger != models.TriggerManual {
		t.Fatalf("manual snapshot = %+v", s)
	}
}

func TestIdleEngineSkipsUntilHeartbeat(t *testing.T) {
	e, pl := startEngine(t, []repository.Scanner{okScanner("a", 1)},
		WithInterval(15*time.Millisecond),
		WithPauseWhenIdle(time.Minute),
	)
	waitFor(t, time.Second, func() bool { return e.Health().SkippedTicks >= 2 })
	if pl.len() != 0 {
		t.Fatalf("idle engine published %d snapshots", pl.len())
	}
	e.Heartbeat("viewer")
	waitFor(t, time.Second, func() bool { return pl.len() >= 1 })
	if e.Health().ActiveSessions != 1 {
		t.Fatalf("active sessions = %d", e.Health().ActiveSessions)
	}
}

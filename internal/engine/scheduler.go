package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// schedulerLoop owns the ticker and runs cycles one at a time. seq, health and
// the timer are touched only by the loop goroutine.
type schedulerLoop struct {
	cfg       Config
	log       *logger.Logger
	metrics   repository.ScanMetrics
	scanners  []repository.Scanner
	configs   func() map[string]models.ScannerConfig
	universe  func() []string
	store     *ResultStore
	gate      func(now time.Time) (reason string, skip bool)
	onPublish func(*models.Snapshot)

	anchor time.Time
	// pending holds at most one manual run request; extra requests coalesce.
	pending chan struct{}
	stop    chan struct{}
	done    chan struct{}
	runCtx  context.Context
	abort   context.CancelFunc
	once    sync.Once

	seq    uint64
	health models.HealthCounters

	mu     sync.Mutex
	status loopStatus
}

type loopStatus struct {
	executing   bool
	manual      bool
	nextRunAt   time.Time
	lastCycleAt time.Time
	skipped     uint64
}

func newSchedulerLoop(cfg Config, scanners []repository.Scanner, store *ResultStore, seq uint64, health models.HealthCounters) *schedulerLoop {
	runCtx, abort := context.WithCancel(context.Background())
	if health.ConsecutiveFailures == nil {
		health.ConsecutiveFailures = make(map[string]int)
	}
	if health.LastSuccessAt == nil {
		health.LastSuccessAt = make(map[string]time.Time)
	}
	return &schedulerLoop{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		scanners: scanners,
		store:    store,
		anchor:   cfg.Now(),
		pending:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		runCtx:   runCtx,
		abort:    abort,
		seq:      seq,
		health:   health,
	}
}

// nextTickAfter returns the first anchor + k*interval strictly after now.
func nextTickAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if now.Before(anchor) {
		return anchor
	}
	k := int64(now.Sub(anchor)/interval) + 1
	return anchor.Add(time.Duration(k) * interval)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (l *schedulerLoop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *schedulerLoop) requestStop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *schedulerLoop) run() {
	defer close(l.done)

	next := l.anchor
	if !l.cfg.RunOnStart {
		next = l.anchor.Add(l.cfg.Interval)
	}
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.setNextRun(next)
		if l.stopped() {
			return
		}

		if now := l.cfg.Now(); now.Before(next) {
			resetTimer(timer, next.Sub(now))
			select {
			case <-l.stop:
				return
			case <-l.pending:
				if l.stopped() {
					return
				}
				l.cycle(models.TriggerManual, l.cfg.Now())
				continue
			case <-timer.C:
				if l.stopped() {
					return
				}
			}
		}

		target := next
		started := l.cfg.Now()
		next = nextTickAfter(l.anchor, l.cfg.Interval, started)
		if missed := int(next.Sub(target)/l.cfg.Interval) - 1; missed > 0 {
			l.log.Warn("scheduled ticks overdue, resynchronising",
				logger.Time("target", target),
				logger.Int("skipped", missed),
				logger.Duration("late", started.Sub(target)),
			)
			l.metrics.RecordSkippedTicks("overrun", missed)
			l.addSkipped(missed)
		}

		if reason, skip := l.gate(started); skip {
			l.log.Info("scheduled tick skipped", logger.String("reason", reason), logger.Time("target", target))
			l.metrics.RecordSkippedTicks(reason, 1)
			l.addSkipped(1)
			continue
		}
		l.cycle(models.TriggerScheduled, started)
	}
}

type scanJob struct {
	scanner repository.Scanner
	cfg     models.ScannerConfig
}

func (l *schedulerLoop) cycle(trigger models.Trigger, startedAt time.Time) {
	l.beginCycle(trigger)
	defer l.endCycle()

	configs := l.configs()
	universe := l.universe()

	jobs := make([]scanJob, 0, len(l.scanners))
	for _, sc := range l.scanners {
		cfg, ok := configs[sc.ID()]
		if !ok || !cfg.Enabled {
			continue
		}
		jobs = append(jobs, scanJob{scanner: sc, cfg: cfg})
	}

	results := make([]models.CycleResult, len(jobs))
	sem := make(chan struct{}, l.cfg.Workers)
	var wg sync.WaitGroup
	for i, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, job scanJob) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = l.runWithRetry(job.scanner, job.cfg, universe)
		}(i, job)
	}
	wg.Wait()

	finished := l.cfg.Now()
	l.seq++
	l.health.TotalCycles++

	snap := &models.Snapshot{
		Sequence:       l.seq,
		CycleStartedAt: startedAt,
		Trigger:        trigger,
		Results:        make(map[string]models.CycleResult, len(results)),
	}
	findings, failures := 0, 0
	for _, r := range results {
		snap.Results[r.ScannerID] = r
		l.recordOutcome(r, finished)
		findings += len(r.Findings)
		if r.Failed() {
			failures++
		}
	}
	snap.Health = l.health.Clone()

	l.store.Publish(snap)
	l.metrics.RecordCycle(string(trigger), finished.Sub(startedAt), l.seq)
	l.setLastCycle(finished)

	l.log.Info("scan cycle published",
		logger.Uint64("sequence", l.seq),
		logger.String("trigger", string(trigger)),
		logger.Int("scanners", len(results)),
		logger.Int("findings", findings),
		logger.Int("failures", failures),
		logger.Duration("duration", finished.Sub(startedAt)),
	)

	if l.onPublish != nil {
		l.onPublish(snap)
	}
}

func (l *schedulerLoop) recordOutcome(r models.CycleResult, at time.Time) {
	id := r.ScannerID
	if r.Failed() {
		l.health.TotalErrors++
		l.health.ConsecutiveFailures[id]++
		l.health.RecentErrors = append(l.health.RecentErrors, models.ScanErrorRecord{
			At:        at,
			ScannerID: id,
			Kind:      r.Error.Kind,
			Message:   r.Error.Message,
		})
		if limit := l.cfg.RecentErrorLimit; limit > 0 && len(l.health.RecentErrors) > limit {
			l.health.RecentErrors = append([]models.ScanErrorRecord(nil), l.health.RecentErrors[len(l.health.RecentErrors)-limit:]...)
		}
		l.metrics.RecordScannerRun(id, "error", r.Attempts, r.Duration, 0)
	} else {
		l.health.ConsecutiveFailures[id] = 0
		l.health.LastSuccessAt[id] = at
		l.metrics.RecordScannerRun(id, "ok", r.Attempts, r.Duration, len(r.Findings))
	}
	l.metrics.RecordConsecutiveFailures(id, l.health.ConsecutiveFailures[id])
}

// runWithRetry never returns an error: failures end up in the CycleResult.
func (l *schedulerLoop) runWithRetry(sc repository.Scanner, cfg models.ScannerConfig, universe []string) models.CycleResult {
	id := sc.ID()
	started := l.cfg.Now()
	res := models.CycleResult{ScannerID: id, StartedAt: started, Findings: []models.Finding{}}

	ctx, cancel := context.WithTimeout(l.runCtx, l.cfg.ScannerBudget)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		findings, err := l.attempt(ctx, sc, cfg, universe)
		if err == nil {
			if findings != nil {
				res.Findings = findings
			}
			res.Duration = l.cfg.Now().Sub(started)
			return res
		}
		lastErr = err

		kind := models.KindOf(err)
		decision := l.cfg.Retry.Decide(attempt, kind)
		if !decision.Retry {
			break
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < decision.Delay {
			l.log.Warn("scanner budget exhausted", logger.String("scanner", id), logger.Int("attempt", attempt))
			break
		}
		l.log.Warn("scanner attempt failed, retrying",
			logger.String("scanner", id),
			logger.Int("attempt", attempt),
			logger.String("kind", string(kind)),
			logger.Duration("delay", decision.Delay),
			logger.Error(err),
		)
		if err := l.cfg.sleep(ctx, decision.Delay); err != nil {
			break
		}
	}

	res.Duration = l.cfg.Now().Sub(started)
	res.Error = &models.ErrorInfo{Kind: models.KindOf(lastErr), Message: lastErr.Error()}
	l.log.Error("scanner failed",
		logger.String("scanner", id),
		logger.String("kind", string(res.Error.Kind)),
		logger.Int("attempts", res.Attempts),
		logger.Error(lastErr),
	)
	return res
}

type attemptOutcome struct {
	findings []models.Finding
	err      error
}

// attempt runs the scanner once under the per-attempt timeout. A scanner that
// ignores cancellation is abandoned; its goroutine finishes on its own.
func (l *schedulerLoop) attempt(ctx context.Context, sc repository.Scanner, cfg models.ScannerConfig, universe []string) ([]models.Finding, error) {
	actx, cancel := context.WithTimeout(ctx, l.cfg.ScannerTimeout)
	defer cancel()

	ch := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- attemptOutcome{err: fmt.Errorf("scanner %s panicked: %v", sc.ID(), r)}
			}
		}()
		f, err := sc.Run(actx, universe, cfg.Clone())
		ch <- attemptOutcome{findings: f, err: err}
	}()

	select {
	case out := <-ch:
		return out.findings, out.err
	case <-actx.Done():
		return nil, models.NewScanError(models.KindTimeout, "run "+sc.ID(), "", actx.Err())
	}
}

// beginCycle marks the loop busy and consumes any pending manual request:
// a cycle that starts after a request satisfies it.
func (l *schedulerLoop) beginCycle(trigger models.Trigger) {
	l.mu.Lock()
	l.status.executing = true
	l.status.manual = trigger == models.TriggerManual
	select {
	case <-l.pending:
	default:
	}
	l.mu.Unlock()
}

func (l *schedulerLoop) endCycle() {
	l.mu.Lock()
	l.status.executing = false
	l.status.manual = false
	l.mu.Unlock()
}

func (l *schedulerLoop) setNextRun(t time.Time) {
	l.mu.Lock()
	l.status.nextRunAt = t
	l.mu.Unlock()
}

func (l *schedulerLoop) setLastCycle(t time.Time) {
	l.mu.Lock()
	l.status.lastCycleAt = t
	l.mu.Unlock()
}

func (l *schedulerLoop) addSkipped(n int) {
	l.mu.Lock()
	l.status.skipped += uint64(n)
	l.mu.Unlock()
}

func (l *schedulerLoop) snapshotStatus() loopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// requestRun records a manual run request. Requests coalesce while one is
// pending or while a manual cycle is executing.
func (l *schedulerLoop) requestRun() TriggerOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status.executing && l.status.manual {
		return TriggerCoalesced
	}
	select {
	case l.pending <- struct{}{}:
	default:
		return TriggerCoalesced
	}
	if l.status.executing {
		return TriggerQueued
	}
	return TriggerAccepted
}

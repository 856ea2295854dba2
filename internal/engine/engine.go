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

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// TriggerOutcome describes what a manual run request did.
type TriggerOutcome string

const (
	// TriggerAccepted: the loop was sleeping and will run a cycle now.
	TriggerAccepted TriggerOutcome = "accepted"
	// TriggerQueued: a cycle is executing; one more runs right after it.
	TriggerQueued TriggerOutcome = "queued"
	// TriggerCoalesced: a manual run was already pending or is executing.
	TriggerCoalesced TriggerOutcome = "coalesced"
)

// PublishHook observes every published snapshot. Hooks run on the scheduler
// goroutine and must not block.
type PublishHook func(*models.Snapshot)

// Health is the engine status exposed to operators.
type Health struct {
	State          State                 `json:"state"`
	StartedAt      time.Time             `json:"started_at"`
	Interval       time.Duration         `json:"interval"`
	Executing      bool                  `json:"executing"`
	PendingRun     bool                  `json:"pending_run"`
	Sequence       uint64                `json:"cycle_sequence"`
	LastCycleAt    time.Time             `json:"last_cycle_at"`
	NextRunAt      time.Time             `json:"next_run_at"`
	SkippedTicks   uint64                `json:"skipped_ticks"`
	ActiveSessions int                   `json:"active_sessions"`
	MarketOpen     bool                  `json:"market_open"`
	Counters       models.HealthCounters `json:"counters"`
}

// Engine runs the registered scanners on a fixed cadence and publishes each
// cycle as an immutable snapshot.
type Engine struct {
	cfg      Config
	log      *logger.Logger
	scanners []repository.Scanner
	store    *ResultStore
	liveness *LivenessTracker

	cfgMu    sync.RWMutex
	configs  map[string]models.ScannerConfig
	universe []string

	hookMu sync.RWMutex
	hooks  []PublishHook

	mu        sync.Mutex
	state     State
	loop      *schedulerLoop
	startedAt time.Time
	seq       uint64
	health    models.HealthCounters
}

// New registers scanners with their configs. Scanners without a config entry
// run enabled with empty parameters.
func New(scanners []repository.Scanner, configs []models.ScannerConfig, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("engine: interval must be positive")
	}

	byID := make(map[string]models.ScannerConfig, len(configs))
	for _, c := range configs {
		byID[c.ID] = c.Clone()
	}

	seen := make(map[string]struct{}, len(scanners))
	registered := make(map[string]models.ScannerConfig, len(scanners))
	for _, sc := range scanners {
		id := sc.ID()
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("engine: duplicate scanner id %q", id)
		}
		seen[id] = struct{}{}
		c, ok := byID[id]
		if !ok {
			c = models.ScannerConfig{ID: id, Enabled: true}
		}
		registered[id] = c
	}
	for id := range byID {
		if _, ok := registered[id]; !ok {
			cfg.Logger.Warn("config for unknown scanner ignored", logger.String("scanner", id))
		}
	}

	return &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With(logger.String("component", "engine")),
		scanners: append([]repository.Scanner(nil), scanners...),
		store:    NewResultStore(),
		liveness: NewLivenessTracker(cfg.Now),
		configs:  registered,
		universe: append([]string(nil), cfg.Universe...),
		state:    StateIdle,
	}, nil
}

// Start launches the scheduler loop. Cancelling ctx stops the loop the same
// way Stop does.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return models.ErrAlreadyRunning
	}

	cfg := e.cfg
	cfg.Logger = e.log
	loop := newSchedulerLoop(cfg, e.scanners, e.store, e.seq, e.health)
	loop.configs = e.configSnapshot
	loop.universe = e.Universe
	loop.gate = e.gate
	loop.onPublish = e.dispatch

	e.loop = loop
	e.state = StateRunning
	e.startedAt = loop.anchor

	go loop.run()
	go e.watch(ctx, loop)

	e.log.Info("engine started",
		logger.Duration("interval", cfg.Interval),
		logger.Int("scanners", len(e.scanners)),
		logger.Int("workers", cfg.Workers),
	)
	return nil
}

// Stop lets the in-flight cycle publish and prevents new ones. It is
// idempotent. When ctx expires first, running scanners are cancelled.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	loop := e.loop
	if e.state != StateRunning || loop == nil {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStopped
	e.mu.Unlock()

	loop.requestStop()

	var err error
	select {
	case <-loop.done:
	case <-ctx.Done():
		loop.abort()
		<-loop.done
		err = ctx.Err()
	}
	loop.abort()

	e.mu.Lock()
	e.seq = loop.seq
	e.health = loop.health.Clone()
	e.mu.Unlock()

	e.log.Info("engine stopped", logger.Uint64("sequence", loop.seq))
	return err
}

// watch stops the loop when ctx ends and settles the engine state if Stop was
// never called, so a later Start resumes the sequence.
func (e *Engine) watch(ctx context.Context, loop *schedulerLoop) {
	select {
	case <-ctx.Done():
		loop.requestStop()
	case <-loop.done:
	}
	<-loop.done
	loop.abort()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loop != loop || e.state != StateRunning {
		return
	}
	e.state = StateStopped
	e.seq = loop.seq
	e.health = loop.health.Clone()
	e.log.Info("engine stopped by context", logger.Uint64("sequence", loop.seq))
}

// Snapshot returns the latest published snapshot without blocking.
func (e *Engine) Snapshot() (*models.Snapshot, error) {
	return e.store.Read()
}

// TriggerManualRun requests an out-of-band cycle. The regular schedule keeps
// its phase.
func (e *Engine) TriggerManualRun() (TriggerOutcome, error) {
	e.mu.Lock()
	loop := e.loop
	running := e.state == StateRunning
	e.mu.Unlock()

	if !running || loop == nil || loop.stopped() {
		return "", models.ErrNotStarted
	}

	outcome := loop.requestRun()
	e.cfg.Metrics.RecordManualTrigger(string(outcome))
	e.log.Info("manual run requested", logger.String("outcome", string(outcome)))
	return outcome, nil
}

func (e *Engine) Health() Health {
	e.mu.Lock()
	h := Health{
		State:     e.state,
		StartedAt: e.startedAt,
		Interval:  e.cfg.Interval,
	}
	loop := e.loop
	e.mu.Unlock()

	if loop != nil {
		st := loop.snapshotStatus()
		h.Executing = st.executing
		h.LastCycleAt = st.lastCycleAt
		h.SkippedTicks = st.skipped
		h.PendingRun = len(loop.pending) > 0
		if h.State == StateRunning && loop.stopped() {
			h.State = StateStopped
		}
		if h.State == StateRunning {
			h.NextRunAt = st.nextRunAt
		}
	}
	if snap, err := e.store.Read(); err == nil {
		h.Sequence = snap.Sequence
		h.Counters = snap.Health
	}
	h.ActiveSessions = e.liveness.ActiveSessions(e.cfg.IdleThreshold)
	h.MarketOpen = e.cfg.Session.IsOpen(e.cfg.Now())
	return h
}

// Heartbeat marks a consumer session as alive.
func (e *Engine) Heartbeat(sessionID string) {
	e.liveness.Heartbeat(sessionID)
}

func (e *Engine) Liveness() *LivenessTracker { return e.liveness }

// OnPublish registers a hook called after every published snapshot.
func (e *Engine) OnPublish(h PublishHook) {
	e.hookMu.Lock()
	e.hooks = append(e.hooks, h)
	e.hookMu.Unlock()
}

func (e *Engine) dispatch(s *models.Snapshot) {
	e.hookMu.RLock()
	hooks := e.hooks
	e.hookMu.RUnlock()
	for _, h := range hooks {
		h(s)
	}
}

// ScannerConfigs returns a copy of every scanner config in registration order.
func (e *Engine) ScannerConfigs() []models.ScannerConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	out := make([]models.ScannerConfig, 0, len(e.scanners))
	for _, sc := range e.scanners {
		out = append(out, e.configs[sc.ID()].Clone())
	}
	return out
}

// UpdateScannerConfig applies fn to the config of scanner id. The change is
// picked up at the start of the next cycle.
func (e *Engine) UpdateScannerConfig(id string, fn func(*models.ScannerConfig)) (models.ScannerConfig, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	cur, ok := e.configs[id]
	if !ok {
		return models.ScannerConfig{}, fmt.Errorf("%w: %s", models.ErrUnknownScanner, id)
	}
	next := cur.Clone()
	fn(&next)
	next.ID = id
	e.configs[id] = next

	e.log.Info("scanner config updated", logger.String("scanner", id), logger.Bool("enabled", next.Enabled))
	return next.Clone(), nil
}

func (e *Engine) configSnapshot() map[string]models.ScannerConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	out := make(map[string]models.ScannerConfig, len(e.configs))
	for id, c := range e.configs {
		out[id] = c.Clone()
	}
	return out
}

func (e *Engine) Universe() []string {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return append([]string(nil), e.universe...)
}

func (e *Engine) SetUniverse(symbols []string) {
	e.cfgMu.Lock()
	e.universe = append([]string(nil), symbols...)
	e.cfgMu.Unlock()
}

func (e *Engine) gate(now time.Time) (string, bool) {
	if e.cfg.MarketHoursOnly && !e.cfg.Session.IsOpen(now) {
		return "market_closed", true
	}
	if e.cfg.PauseWhenIdle && !e.liveness.IsAnySessionActive(e.cfg.IdleThreshold) {
		return "idle", true
	}
	return "", false
}

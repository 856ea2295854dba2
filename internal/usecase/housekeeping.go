package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"

	"github.com/go-co-op/gocron"
)

// SessionEvicter drops heartbeat sessions that went quiet.
type SessionEvicter interface {
	Evict(threshold time.Duration) int
}

// Purger clears cached entries under a key prefix.
type Purger interface {
	Purge(prefix string) int
}

type HousekeepingConfig struct {
	IdleThreshold     time.Duration
	LivenessEvery     time.Duration
	HistoryCheckEvery time.Duration
	CachePurgeAt      string // HH:MM in IST, weekdays
	CachePrefix       string
}

// Housekeeping runs periodic maintenance next to the scanner engine.
type Housekeeping struct {
	cfg      HousekeepingConfig
	cron     *gocron.Scheduler
	liveness SessionEvicter
	cache    Purger
	history  repository.HistoryStore
	log      *logger.Logger
}

// NewHousekeeping wires the jobs; cache and history may be nil.
func NewHousekeeping(cfg HousekeepingConfig, liveness SessionEvicter, cache Purger, history repository.HistoryStore, lgr *logger.Logger) *Housekeeping {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 2 * time.Minute
	}
	if cfg.LivenessEvery <= 0 {
		cfg.LivenessEvery = time.Minute
	}
	if cfg.HistoryCheckEvery <= 0 {
		cfg.HistoryCheckEvery = 5 * time.Minute
	}
	if cfg.CachePurgeAt == "" {
		cfg.CachePurgeAt = "15:45"
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "series"
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	s := gocron.NewScheduler(xutil.IST)
	s.SingletonModeAll()
	return &Housekeeping{
		cfg:      cfg,
		cron:     s,
		liveness: liveness,
		cache:    cache,
		history:  history,
		log:      lgr.With(logger.String("component", "housekeeping")),
	}
}

// Start registers the jobs and runs the scheduler in the background.
func (h *Housekeeping) Start() error {
	if _, err := h.cron.Every(h.cfg.LivenessEvery).Tag("liveness").WaitForSchedule().Do(h.EvictSessions); err != nil {
		return fmt.Errorf("schedule liveness eviction: %w", err)
	}
	if h.cache != nil {
		if _, err := h.cron.Every(1).Weekday(time.Monday).Weekday(time.Tuesday).Weekday(time.Wednesday).
			Weekday(time.Thursday).Weekday(time.Friday).At(h.cfg.CachePurgeAt).Tag("cache_purge").Do(h.PurgeCache); err != nil {
			return fmt.Errorf("schedule cache purge: %w", err)
		}
	}
	if h.history != nil {
		if _, err := h.cron.Every(h.cfg.HistoryCheckEvery).Tag("history_health").Do(h.CheckHistory); err != nil {
			return fmt.Errorf("schedule history check: %w", err)
		}
	}
	h.cron.StartAsync()
	h.log.Info("housekeeping started", logger.Int("jobs", h.cron.Len()))
	return nil
}

func (h *Housekeeping) Stop() {
	h.cron.Stop()
	h.log.Info("housekeeping stopped")
}

// Jobs returns the tags of the registered jobs.
func (h *Housekeeping) Jobs() []string {
	var tags []string
	for _, j := range h.cron.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

func (h *Housekeeping) EvictSessions() {
	if n := h.liveness.Evict(h.cfg.IdleThreshold); n > 0 {
		h.log.Debug("stale sessions evicted", logger.Int("count", n))
	}
}

// PurgeCache drops cached market data once the session has closed so the
// next session starts from fresh bars.
func (h *Housekeeping) PurgeCache() {
	n := h.cache.Purge(h.cfg.CachePrefix)
	h.log.Info("market data cache purged", logger.Int("entries", n))
}

func (h *Housekeeping) CheckHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.history.Health(ctx); err != nil {
		h.log.Warn("history store unhealthy", logger.Error(err))
	}
}

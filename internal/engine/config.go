package engine

import (
	"context"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

type Config struct {
	Interval       time.Duration
	Workers        int
	ScannerTimeout time.Duration
	// ScannerBudget bounds all attempts and backoff sleeps of one scanner in one cycle.
	ScannerBudget time.Duration
	Retry         RetryPolicy
	RunOnStart    bool

	PauseWhenIdle bool
	IdleThreshold time.Duration

	MarketHoursOnly bool
	Session         util.Session

	Universe         []string
	RecentErrorLimit int

	Logger  *logger.Logger
	Metrics repository.ScanMetrics
	Now     func() time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Interval:         15 * time.Minute,
		Workers:          4,
		ScannerTimeout:   60 * time.Second,
		ScannerBudget:    90 * time.Second,
		Retry:            DefaultRetryPolicy(),
		RunOnStart:       true,
		IdleThreshold:    2 * time.Minute,
		Session:          util.NSESession(),
		RecentErrorLimit: 10,
		Now:              time.Now,
		sleep:            sleepCtx,
	}
}

func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Interval = d
		}
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Workers = n
		}
	}
}

func WithScannerTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ScannerTimeout = d
		}
	}
}

func WithScannerBudget(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ScannerBudget = d
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Config) { c.Retry = p }
}

// WithRunOnStart controls whether the first cycle runs at start (tick k=0)
// or one interval later.
func WithRunOnStart(v bool) Option {
	return func(c *Config) { c.RunOnStart = v }
}

// WithPauseWhenIdle skips scheduled ticks while no consumer session has sent a
// heartbeat within threshold.
func WithPauseWhenIdle(threshold time.Duration) Option {
	return func(c *Config) {
		c.PauseWhenIdle = true
		if threshold > 0 {
			c.IdleThreshold = threshold
		}
	}
}

// WithMarketHoursOnly skips scheduled ticks outside the trading session.
func WithMarketHoursOnly(s util.Session) Option {
	return func(c *Config) {
		c.MarketHoursOnly = true
		c.Session = s
	}
}

func WithUniverse(symbols []string) Option {
	return func(c *Config) { c.Universe = append([]string(nil), symbols...) }
}

// WithRecentErrorLimit bounds the error log carried in health counters.
func WithRecentErrorLimit(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.RecentErrorLimit = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMetrics(m repository.ScanMetrics) Option {
	return func(c *Config) { c.Metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

func withSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) { c.sleep = fn }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(string, time.Duration, uint64)                 {}
func (nopMetrics) RecordScannerRun(string, string, int, time.Duration, int) {}
func (nopMetrics) RecordConsecutiveFailures(string, int)                    {}
func (nopMetrics) RecordSkippedTicks(string, int)                           {}
func (nopMetrics) RecordManualTrigger(string)                               {}

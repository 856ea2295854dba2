package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/cache"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// Recorder counts notification outcomes.
type Recorder interface {
	RecordNotification(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string) {}

// Notifier turns published snapshots into chat reports. Each
// (scanner, instrument, kind) is reported at most once per dedup window and
// reports are at least MinInterval apart.
type Notifier struct {
	sink        repository.NotificationSink
	dedup       cache.Service
	rules       []Rule
	minInterval time.Duration
	window      time.Duration
	log         *logger.Logger
	metrics     Recorder
	now         func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

type Option func(*Notifier)

func WithRules(r []Rule) Option { return func(n *Notifier) { n.rules = r } }

func WithDedup(c cache.Service, window time.Duration) Option {
	return func(n *Notifier) {
		n.dedup = c
		if window > 0 {
			n.window = window
		}
	}
}

func WithMinInterval(d time.Duration) Option {
	return func(n *Notifier) {
		if d >= 0 {
			n.minInterval = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(n *Notifier) {
		if r != nil {
			n.metrics = r
		}
	}
}

func WithClock(now func() time.Time) Option { return func(n *Notifier) { n.now = now } }

func NewNotifier(sink repository.NotificationSink, opts ...Option) *Notifier {
	n := &Notifier{
		sink:        sink,
		rules:       DefaultRules(),
		minInterval: 15 * time.Minute,
		window:      4 * time.Hour,
		log:         logger.Nop(),
		metrics:     nopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With(logger.String("component", "notifier"))
	return n
}

// Notify reports the fresh bullish findings of s. Nothing is sent when no
// finding is fresh or the previous report is too recent.
func (n *Notifier) Notify(ctx context.Context, s *models.Snapshot) error {
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.minInterval {
		n.metrics.RecordNotification("throttled")
		n.log.Debug("report throttled", logger.Uint64("sequence", s.Sequence))
		return nil
	}

	sections, locked := n.fresh(ctx, Select(s, n.rules))
	if len(sections) == 0 {
		n.metrics.RecordNotification("empty")
		return nil
	}

	msg := Render(s.Sequence, sections, now)
	if err := n.sink.Send(ctx, msg); err != nil {
		n.release(locked)
		n.metrics.RecordNotification("failed")
		return fmt.Errorf("send report %s: %w", msg.ID, err)
	}
	n.lastSent = now
	n.metrics.RecordNotification("sent")
	n.log.Info("report sent",
		logger.Uint64("sequence", s.Sequence),
		logger.Int("sections", len(sections)),
	)
	return nil
}

// fresh drops findings already reported inside the dedup window and returns
// the keys it claimed.
func (n *Notifier) fresh(ctx context.Context, sections []Section) ([]Section, []string) {
	if n.dedup == nil {
		return sections, nil
	}
	var (
		out    []Section
		locked []string
	)
	for _, sec := range sections {
		kept := sec.Findings[:0:0]
		for _, f := range sec.Findings {
			key := cache.GenerateKeyWithParams("notified", sec.ScannerID, f.Instrument, f.Kind)
			ok, err := n.dedup.TryLock(ctx, key, n.window)
			if err != nil {
				n.log.Warn("dedup lookup failed", logger.String("key", key), logger.Error(err))
				ok = true
			} else if ok {
				locked = append(locked, key)
			}
			if ok {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			sec.Findings = kept
			out = append(out, sec)
		}
	}
	return out, locked
}

func (n *Notifier) release(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, k := range keys {
		if err := n.dedup.Unlock(ctx, k); err != nil {
			n.log.Warn("dedup release failed", logger.String("key", k), logger.Error(err))
		}
	}
}

package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
)

type fakeEngine struct {
	triggers   int
	triggerErr error
	configs    map[string]models.ScannerConfig
	universe   []string
	beats      []string
}

func (f *fakeEngine) TriggerManualRun() (engine.TriggerOutcome, error) {
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.triggers++
	return engine.TriggerAccepted, nil
}

func (f *fakeEngine) UpdateScannerConfig(id string, fn func(*models.ScannerConfig)) (models.ScannerConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return models.ScannerConfig{}, models.ErrUnknownScanner
	}
	fn(&c)
	f.configs[id] = c
	return c, nil
}

func (f *fakeEngine) SetUniverse(symbols []string) { f.universe = symbols }
func (f *fakeEngine) Heartbeat(id string)          { f.beats = append(f.beats, id) }

func newFakeEngine() *fakeEngine {
	return &fakeEngine{configs: map[string]models.ScannerConfig{
		"macd_4h": {ID: "macd_4h", Enabled: true, Timeframe: models.TF4h, Parameters: map[string]float64{"fast": 12}},
	}}
}

func TestControlHandlerCommands(t *testing.T) {
	eng := newFakeEngine()
	h := NewControlHandler("scanner.control", eng, nil)
	ctx := context.Background()

	if h.Topic() != "scanner.control" {
		t.Fatalf("topic = %s", h.Topic())
	}
	if err := h.Handle(ctx, []byte(`{"type":"trigger"}`)); err != nil || eng.triggers != 1 {
		t.Fatalf("trigger: %v (%d)", err, eng.triggers)
	}
	if err := h.Handle(ctx, []byte(`{"type":"configure","scanner":{"id":"macd_4h","enabled":false,"parameters":{"slow":30}}}`)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	c := eng.configs["macd_4h"]
	if c.Enabled || c.Parameters["fast"] != 12 || c.Parameters["slow"] != 30 || c.Timeframe != models.TF4h {
		t.Fatalf("config = %+v", c)
	}
	if err := h.Handle(ctx, []byte(`{"type":"universe","symbols":["TCS.NS","INFY.NS"]}`)); err != nil || len(eng.universe) != 2 {
		t.Fatalf("universe: %v %v", err, eng.universe)
	}
	if err := h.Handle(ctx, []byte(`{"type":"heartbeat","session_id":"dash-1"}`)); err != nil || len(eng.beats) != 1 {
		t.Fatalf("heartbeat: %v %v", err, eng.beats)
	}
}

func TestControlHandlerRejects(t *testing.T) {
	eng := newFakeEngine()
	h := NewControlHandler("c", eng, nil)
	ctx := context.Background()

	for _, body := range []string{
		`not json`,
		`{"type":"explode"}`,
		`{"type":"configure"}`,
		`{"type":"universe","symbols":[]}`,
	} {
		if err := h.Handle(ctx, []byte(body)); !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("%s: err = %v", body, err)
		}
	}
	if err := h.Handle(ctx, []byte(`{"type":"configure","scanner":{"id":"nope"}}`)); !errors.Is(err, models.ErrUnknownScanner) {
		t.Fatalf("unknown scanner err = %v", err)
	}

	eng.triggerErr = models.ErrNotStarted
	if err := h.Handle(ctx, []byte(`{"type":"trigger"}`)); err != nil {
		t.Fatalf("trigger on stopped engine should be dropped, got %v", err)
	}
}

type fakePurger struct{ prefixes []string }

func (p *fakePurger) Purge(prefix string) int {
	p.prefixes = append(p.prefixes, prefix)
	return 3
}

type fakeHistory struct {
	repository.HistoryStore
	checks int
	err    error
}

func (h *fakeHistory) Health(context.Context) error {
	h.checks++
	return h.err
}

func TestHousekeepingJobs(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	live := engine.NewLivenessTracker(func() time.Time { return now })
	live.Heartbeat("old")
	now = now.Add(time.Hour)
	live.Heartbeat("fresh")

	purger := &fakePurger{}
	hist := &fakeHistory{err: errors.New("down")}
	h := NewHousekeeping(HousekeepingConfig{IdleThreshold: time.Minute}, live, purger, hist, nil)

	h.EvictSessions()
	if live.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", live.Len())
	}
	h.PurgeCache()
	if len(purger.prefixes) != 1 || purger.prefixes[0] != "series" {
		t.Fatalf("purged = %v", purger.prefixes)
	}
	h.CheckHistory()
	if hist.checks != 1 {
		t.Fatalf("history checks = %d", hist.checks)
	}
}

func TestHousekeepingSchedulesJobs(t *testing.T) {
	live := engine.NewLivenessTracker(nil)
	h := NewHousekeeping(HousekeepingConfig{}, live, &fakePurger{}, &fakeHistory{}, nil)
	if err := h.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	tags := h.Jobs()
	sort.Strings(tags)
	if strings.Join(tags, ",") != "cache_purge,history_health,liveness" {
		t.Fatalf("jobs = %v", tags)
	}

	bare := NewHousekeeping(HousekeepingConfig{}, live, nil, nil, nil)
	if err := bare.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bare.Stop()
	if tags := bare.Jobs(); len(tags) != 1 || tags[0] != "liveness" {
		t.Fatalf("jobs = %v", tags)
	}
}

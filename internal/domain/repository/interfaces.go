package repository

import (
	"context"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
)

// Scanner analyses a universe of instruments and reports findings. The engine
// treats every implementation the same way.
type Scanner interface {
	ID() string
	Run(ctx context.Context, universe []string, cfg models.ScannerConfig) ([]models.Finding, error)
}

// MarketDataClient fetches OHLCV series. Failures are *models.ScanError values
// classified as rate limited, transient network, unsupported instrument or
// malformed data.
type MarketDataClient interface {
	FetchSeries(ctx context.Context, instrument, interval, lookback string) ([]models.Bar, error)
}

type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Notification is an outbound report rendered for a chat sink.
type Notification struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Markdown bool       `json:"markdown"`
	Buttons  [][]Button `json:"buttons,omitempty"`
}

// NotificationSink delivers notifications on a best-effort basis.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}

type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, s *models.Snapshot) error
	Close() error
}

type HistoryQuery struct {
	ScannerID  string
	Instrument string
	From       time.Time
	To         time.Time
	Limit      int
}

// HistoryRow is one stored finding with the cycle it came from.
type HistoryRow struct {
	Sequence       uint64         `json:"cycle_sequence"`
	CycleStartedAt time.Time      `json:"cycle_started_at"`
	ScannerID      string         `json:"scanner_id"`
	Finding        models.Finding `json:"finding"`
}

type HistoryStore interface {
	Init(ctx context.Context) error
	StoreCycle(ctx context.Context, s *models.Snapshot) error
	Query(ctx context.Context, q HistoryQuery) ([]HistoryRow, error)
	Health(ctx context.Context) error
	Close() error
}

// ScanMetrics receives engine telemetry.
type ScanMetrics interface {
	RecordCycle(trigger string, duration time.Duration, sequence uint64)
	RecordScannerRun(scanner, result string, attempts int, duration time.Duration, findings int)
	RecordConsecutiveFailures(scanner string, n int)
	RecordSkippedTicks(reason string, n int)
	RecordManualTrigger(outcome string)
}

package scanners

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/services/indicators"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

// analyzeFunc inspects one instrument's bars and reports at most one finding.
// Instrument and AsOf are filled in by the caller.
type analyzeFunc func(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool)

// SeriesScanner fetches one series per instrument and runs an analysis over
// it. Retryable fetch errors abort the run so the engine can retry; other
// per-instrument failures skip the instrument.
type SeriesScanner struct {
	id        string
	timeframe models.Timeframe
	minBars   int
	data      repository.MarketDataClient
	analyze   analyzeFunc
	log       *logger.Logger
}

func newSeriesScanner(id string, tf models.Timeframe, minBars int, data repository.MarketDataClient, lgr *logger.Logger, fn analyzeFunc) *SeriesScanner {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &SeriesScanner{
		id:        id,
		timeframe: tf,
		minBars:   minBars,
		data:      data,
		analyze:   fn,
		log:       lgr.With(logger.String("scanner", id)),
	}
}

func (s *SeriesScanner) ID() string { return s.id }

func (s *SeriesScanner) Timeframe() models.Timeframe { return s.timeframe }

func (s *SeriesScanner) Run(ctx context.Context, universe []string, cfg models.ScannerConfig) ([]models.Finding, error) {
	tf := s.timeframe
	if cfg.Timeframe != "" && repository.IsValidTimeframe(cfg.Timeframe) {
		tf = cfg.Timeframe
	}
	spec := repository.FetchSpecFor(tf)
	minBars := int(cfg.Param("min_bars", float64(s.minBars)))

	findings := make([]models.Finding, 0)
	var lastErr error
	failed, short := 0, 0
	for _, symbol := range universe {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.id, err)
		}

		bars, err := s.data.FetchSeries(ctx, symbol, spec.Interval, spec.Lookback)
		if err != nil {
			if models.IsRetryable(err) {
				return nil, fmt.Errorf("%s: %w", s.id, err)
			}
			s.log.Debug("instrument skipped", logger.String("symbol", symbol), logger.Error(err))
			lastErr = err
			failed++
			continue
		}
		if spec.Resample == models.TF4h {
			bars = indicators.Resample(bars, 4*time.Hour, util.IST)
		}
		if len(bars) < minBars {
			short++
			continue
		}

		f, ok := s.analyze(bars, cfg)
		if !ok {
			continue
		}
		f.Instrument = util.DisplaySymbol(symbol)
		f.AsOf = bars[len(bars)-1].Time
		findings = append(findings, f)
	}

	if len(universe) > 0 && failed == len(universe) {
		return nil, fmt.Errorf("%s: every instrument failed: %w", s.id, lastErr)
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Strength > findings[j].Strength })
	s.log.Debug("scan finished",
		logger.Int("instruments", len(universe)),
		logger.Int("findings", len(findings)),
		logger.Int("failed", failed),
		logger.Int("insufficient", short),
	)
	return findings, nil
}

func finding(signal models.Signal, kind string, strength float64, metrics map[string]float64) models.Finding {
	for k, v := range metrics {
		metrics[k] = indicators.Round(v, 4)
	}
	return models.Finding{Signal: signal, Kind: kind, Strength: indicators.Round(strength, 2), Metrics: metrics}
}

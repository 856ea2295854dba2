package scanners

import (
	"math"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/services/indicators"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

func macdParams(cfg models.ScannerConfig) (fast, slow, signal int) {
	return int(cfg.Param("fast", 12)), int(cfg.Param("slow", 26)), int(cfg.Param("signal", 9))
}

// NewMACDScanner reports crossovers, zero-histogram momentum shifts and
// widening histograms on the given timeframe.
func NewMACDScanner(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner {
	return newSeriesScanner(id, tf, 50, data, lgr, analyzeMACDMomentum)
}

func analyzeMACDMomentum(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool) {
	fast, slow, sig := macdParams(cfg)
	m := indicators.MACD(models.Closes(bars), fast, slow, sig)
	if m.Len() < 3 {
		return models.Finding{}, false
	}
	n := m.Len() - 1
	cm, cs, ch := m.MACD[n], m.Signal[n], m.Histogram[n]
	pm, ps, ph := m.MACD[n-1], m.Signal[n-1], m.Histogram[n-1]

	var (
		signal   models.Signal
		kind     string
		strength float64
	)
	switch {
	case pm <= ps && cm > cs:
		signal, kind, strength = models.SignalBullish, "Bullish Crossover", math.Abs(ch)*10
	case ch > 0 && ph <= 0:
		signal, kind, strength = models.SignalBullish, "Bullish Momentum", ch*8
	case cm > cs && ch > ph && ch > 0:
		signal, kind, strength = models.SignalBullish, "Bullish Divergence", (ch-ph)*5
	case pm >= ps && cm < cs:
		signal, kind, strength = models.SignalBearish, "Bearish Crossover", math.Abs(ch)*10
	case ch < 0 && ph >= 0:
		signal, kind, strength = models.SignalBearish, "Bearish Momentum", math.Abs(ch)*8
	case cm < cs && ch < ph && ch < 0:
		signal, kind, strength = models.SignalBearish, "Bearish Divergence", math.Abs(ch-ph)*5
	default:
		return models.Finding{}, false
	}

	return finding(signal, kind, strength, map[string]float64{
		"price":       bars[len(bars)-1].Close,
		"change_pct":  indicators.PctChange(bars),
		"macd":        cm,
		"signal_line": cs,
		"histogram":   ch,
	}), true
}

// NewMACDPatternScanner scores daily MACD patterns: crossovers (weighted by
// zero-line position, volume and price confirmation), zero-line crosses and
// building histogram momentum.
func NewMACDPatternScanner(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner {
	return newSeriesScanner(id, tf, 50, data, lgr, analyzeMACDPattern)
}

func analyzeMACDPattern(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool) {
	fast, slow, sig := macdParams(cfg)
	m := indicators.MACD(models.Closes(bars), fast, slow, sig)
	if m.Len() < 10 {
		return models.Finding{}, false
	}
	n := m.Len() - 1
	cm, cs, ch := m.MACD[n], m.Signal[n], m.Histogram[n]
	pm, ps := m.MACD[n-1], m.Signal[n-1]

	change := indicators.PctChange(bars)
	volRatio := indicators.VolumeRatio(bars, 20)

	var (
		signal models.Signal
		kind   string
		score  float64
	)
	switch {
	case pm <= ps && cm > cs:
		signal, kind, score = models.SignalBullish, "Bullish MACD Crossover", 85
		if cm < 0 {
			score += 10
		}
		if volRatio > 1.5 {
			score += 5
		}
		if change > 0 {
			score += 5
		}
	case pm >= ps && cm < cs:
		signal, kind, score = models.SignalBearish, "Bearish MACD Crossover", 85
		if cm > 0 {
			score += 10
		}
		if volRatio > 1.5 {
			score += 5
		}
		if change < 0 {
			score += 5
		}
	case pm <= 0 && cm > 0:
		signal, kind, score = models.SignalBullish, "MACD Above Zero", 75
	case pm >= 0 && cm < 0:
		signal, kind, score = models.SignalBearish, "MACD Below Zero", 75
	default:
		// Sum of histogram diffs over the last five points.
		trend := ch - m.Histogram[n-4]
		switch {
		case math.Abs(trend) <= 0.01:
			return models.Finding{}, false
		case trend > 0 && ch > 0:
			signal, kind, score = models.SignalBullish, "Bullish Momentum Building", 65
		case trend < 0 && ch < 0:
			signal, kind, score = models.SignalBearish, "Bearish Momentum Building", 65
		default:
			return models.Finding{}, false
		}
	}

	return finding(signal, kind, score, map[string]float64{
		"price":        bars[len(bars)-1].Close,
		"change_pct":   change,
		"macd":         cm,
		"signal_line":  cs,
		"histogram":    ch,
		"volume_ratio": volRatio,
	}), true
}

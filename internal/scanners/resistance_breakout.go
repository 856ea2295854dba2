package scanners

import (
	"math"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/services/indicators"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// NewResistanceBreakoutScanner looks for fresh breaks above a confirmed
// resistance and for pullbacks into a level that was recently broken.
func NewResistanceBreakoutScanner(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner {
	return newSeriesScanner(id, tf, 100, data, lgr, analyzeResistanceBreakout)
}

func analyzeResistanceBreakout(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool) {
	n := len(bars)
	if n < 2 {
		return models.Finding{}, false
	}
	levels := indicators.SupportResistance(bars, int(cfg.Param("window", 10)), int(cfg.Param("min_touches", 2)))
	if len(levels.Resistance) == 0 {
		return models.Finding{}, false
	}

	cur := bars[n-1]
	resistance, found := 0.0, false
	for _, r := range levels.Resistance {
		if r <= cur.Close*1.05 {
			resistance, found = r, true
			break
		}
	}
	if !found {
		return models.Finding{}, false
	}

	volRatio := indicators.VolumeRatio(bars, 20)

	recentlyBelow := false
	for _, b := range bars[max(0, n-5):] {
		if b.Close <= resistance {
			recentlyBelow = true
			break
		}
	}

	var (
		kind  string
		score float64
	)
	if cur.Close > resistance && cur.High > resistance && recentlyBelow {
		kind, score = "Fresh Resistance Breakout", 70
		pct := (cur.Close - resistance) / resistance * 100
		if volRatio > 1.2 {
			score += 15
		}
		if pct > 2 {
			score += 10
		}
		if pct > 5 {
			score += 5
		}
	} else {
		for i := 2; i < min(10, n); i++ {
			past := bars[n-i]
			if past.High > resistance && past.Close > resistance && cur.Close < resistance {
				kind, score = "Resistance Retracement", 60
				if math.Abs(cur.Close-resistance)/resistance*100 < 3 {
					score += 15
				}
				if volRatio > 1.0 {
					score += 10
				}
				break
			}
		}
	}
	if kind == "" {
		return models.Finding{}, false
	}

	stop := cur.Close * 0.95
	below := false
	for _, s := range levels.Support {
		if s < cur.Close && (!below || s > stop) {
			stop, below = s, true
		}
	}
	risk := cur.Close - stop

	return finding(models.SignalBullish, kind, score, map[string]float64{
		"price":            cur.Close,
		"change_pct":       indicators.PctChange(bars),
		"resistance_level": resistance,
		"distance_pct":     math.Abs(cur.Close-resistance) / resistance * 100,
		"volume_ratio":     volRatio,
		"stop_loss":        stop,
		"target":           cur.Close + 2*risk,
		"risk":             risk,
	}), true
}

package scanners

import (
	"math"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/services/indicators"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// NewRangeBreakoutScanner flags closes that leave a consolidation range by
// more than a fraction of ATR. Stops sit at the opposite range edge with a
// 1:2 target.
func NewRangeBreakoutScanner(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner {
	return newSeriesScanner(id, tf, 100, data, lgr, analyzeRangeBreakout)
}

func analyzeRangeBreakout(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool) {
	n := len(bars)
	if n < 3 {
		return models.Finding{}, false
	}
	atrLen := int(math.Min(cfg.Param("atr_length", 500), float64(n-1)))
	atr := indicators.ATR(bars, atrLen)
	if math.IsNaN(atr) || atr <= 0 {
		return models.Finding{}, false
	}

	period := int(math.Min(cfg.Param("range_period", 20), float64(n/4)))
	if period < 1 {
		return models.Finding{}, false
	}
	window := bars[n-1-period : n-1]
	rangeHigh, rangeLow := window[0].High, window[0].Low
	for _, b := range window[1:] {
		rangeHigh = math.Max(rangeHigh, b.High)
		rangeLow = math.Min(rangeLow, b.Low)
	}
	rangeSize := rangeHigh - rangeLow

	threshold := atr * cfg.Param("threshold_atr", 0.1)
	if rangeSize < atr*cfg.Param("min_range_atr", 2) {
		return models.Finding{}, false
	}

	cur, prev := bars[n-1], bars[n-2]
	metrics := map[string]float64{
		"price":        cur.Close,
		"change_pct":   indicators.PctChange(bars),
		"range_high":   rangeHigh,
		"range_low":    rangeLow,
		"range_size":   rangeSize,
		"volume_ratio": indicators.VolumeRatio(bars, 20),
		"atr":          atr,
	}

	switch {
	case cur.Close > rangeHigh+threshold && cur.High > rangeHigh && prev.Close <= rangeHigh:
		risk := cur.Close - rangeLow
		metrics["stop_loss"] = rangeLow
		metrics["target"] = cur.Close + 2*risk
		return finding(models.SignalBullish, "Bullish Range Breakout", (cur.Close-rangeHigh)/atr*100, metrics), true
	case cur.Close < rangeLow-threshold && cur.Low < rangeLow && prev.Close >= rangeLow:
		risk := rangeHigh - cur.Close
		metrics["stop_loss"] = rangeHigh
		metrics["target"] = cur.Close - 2*risk
		return finding(models.SignalBearish, "Bearish Range Breakout", (rangeLow-cur.Close)/atr*100, metrics), true
	}
	return models.Finding{}, false
}

package scanners

import (
	"math"
	"strings"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/services/indicators"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// NewSupportLevelScanner reports price sitting on a confirmed support (long
// setups) or pressing into a resistance (short setups).
func NewSupportLevelScanner(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner {
	return newSeriesScanner(id, tf, 100, data, lgr, analyzeSupportLevel)
}

func analyzeSupportLevel(bars []models.Bar, cfg models.ScannerConfig) (models.Finding, bool) {
	n := len(bars)
	if n < 2 {
		return models.Finding{}, false
	}
	levels := indicators.SupportResistance(bars, int(cfg.Param("window", 15)), int(cfg.Param("min_touches", 2)))
	if len(levels.Support) == 0 && len(levels.Resistance) == 0 {
		return models.Finding{}, false
	}

	cur := bars[n-1]
	volRatio := indicators.VolumeRatio(bars, 20)

	var (
		kind     string
		strength float64
		key      float64
		distance float64
	)

	if near, ok := maxWhere(levels.Support, func(s float64) bool { return s <= cur.Close*1.02 }); ok {
		dist := math.Abs(cur.Close-near) / cur.Close * 100
		if dist <= 3 {
			kind, strength, key, distance = "Near Support Level", 80-dist*10, near, dist
			if volRatio > 1.2 {
				strength += 10
			}
			if cur.Low <= near && near <= cur.Close {
				kind = "Support Bounce"
				strength += 15
			}
		}
	}

	if strength < 70 {
		if near, ok := minWhere(levels.Resistance, func(r float64) bool { return r >= cur.Close*0.98 }); ok {
			dist := math.Abs(cur.Close-near) / cur.Close * 100
			if dist <= 3 {
				kind, strength, key, distance = "Near Resistance Level", 75-dist*10, near, dist
				if volRatio > 1.2 {
					strength += 10
				}
				if cur.High >= near && near >= cur.Close {
					kind = "Resistance Rejection"
					strength += 15
				}
			}
		}
	}

	if strength <= 70 {
		return models.Finding{}, false
	}

	var signal models.Signal
	var stop, risk, target float64
	if strings.Contains(kind, "Support") {
		signal = models.SignalBullish
		stop = key * 0.98
		risk = cur.Close - stop
		target = cur.Close + 2*risk
		if next, ok := minWhere(levels.Resistance, func(r float64) bool { return r > cur.Close }); ok {
			target = math.Min(next, target)
		}
	} else {
		signal = models.SignalBearish
		stop = key * 1.02
		risk = stop - cur.Close
		target = cur.Close - 2*risk
		if next, ok := maxWhere(levels.Support, func(s float64) bool { return s < cur.Close }); ok {
			target = math.Max(next, target)
		}
	}

	return finding(signal, kind, strength, map[string]float64{
		"price":             cur.Close,
		"change_pct":        indicators.PctChange(bars),
		"key_level":         key,
		"distance_pct":      distance,
		"volume_ratio":      volRatio,
		"stop_loss":         stop,
		"target":            target,
		"risk":              risk,
		"reward":            math.Abs(target - cur.Close),
		"support_levels":    float64(len(levels.Support)),
		"resistance_levels": float64(len(levels.Resistance)),
	}), true
}

func maxWhere(values []float64, keep func(float64) bool) (float64, bool) {
	best, ok := 0.0, false
	for _, v := range values {
		if keep(v) && (!ok || v > best) {
			best, ok = v, true
		}
	}
	return best, ok
}

func minWhere(values []float64, keep func(float64) bool) (float64, bool) {
	best, ok := 0.0, false
	for _, v := range values {
		if keep(v) && (!ok || v < best) {
			best, ok = v, true
		}
	}
	return best, ok
}

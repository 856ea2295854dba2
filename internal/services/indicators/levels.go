package indicators

import "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"

const levelTolerance = 0.02

// Levels are confirmed support and resistance prices in discovery order.
type Levels struct {
	Support    []float64
	Resistance []float64
}

type level struct {
	price   float64
	touches int
}

// SupportResistance finds local extremes over +/- window bars, groups those
// within 2% of a running level price, and keeps levels touched at least
// minTouches times.
func SupportResistance(bars []models.Bar, window, minTouches int) Levels {
	if window < 1 || len(bars) < 2*window {
		return Levels{}
	}

	var highs, lows []float64
	for i := window; i < len(bars)-window; i++ {
		hi, lo := bars[i].High, bars[i].Low
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if bars[j].High > hi {
				isHigh = false
			}
			if bars[j].Low < lo {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, hi)
		}
		if isLow {
			lows = append(lows, lo)
		}
	}

	return Levels{
		Support:    groupLevels(lows, minTouches),
		Resistance: groupLevels(highs, minTouches),
	}
}

func groupLevels(candidates []float64, minTouches int) []float64 {
	var levels []*level
	for _, p := range candidates {
		grouped := false
		for _, l := range levels {
			if abs(p-l.price)/l.price <= levelTolerance {
				l.touches++
				l.price = (l.price*float64(l.touches-1) + p) / float64(l.touches)
				grouped = true
				break
			}
		}
		if !grouped {
			levels = append(levels, &level{price: p, touches: 1})
		}
	}

	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		if l.touches >= minTouches {
			out = append(out, l.price)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

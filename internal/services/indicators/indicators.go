package indicators

import (
	"math"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

// EMA computes the bias-adjusted exponential moving average with
// alpha = 2/(span+1). Early values weight the available history instead of
// seeding with the first sample.
func EMA(values []float64, span int) []float64 {
	if len(values) == 0 || span < 1 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1)
	decay := 1 - alpha

	out := make([]float64, len(values))
	num, den := 0.0, 0.0
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// MACDSeries holds aligned MACD, signal and histogram values.
type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

func (m MACDSeries) Len() int { return len(m.MACD) }

// MACD computes the fast/slow/signal MACD over closes.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	if len(closes) == 0 {
		return MACDSeries{}
	}
	ef := EMA(closes, fast)
	es := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = ef[i] - es[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(closes))
	for i := range line {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|). The
// first bar has no previous close and uses high-low.
func TrueRange(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			pc := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-pc), math.Abs(b.Low-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATR returns the simple average of the last period true ranges, or NaN when
// there are fewer than period bars.
func ATR(bars []models.Bar, period int) float64 {
	if period < 1 || len(bars) < period {
		return math.NaN()
	}
	tr := TrueRange(bars)
	return Mean(tr[len(tr)-period:])
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// VolumeRatio is the last volume over the mean of the trailing window
// (including the last bar).
func VolumeRatio(bars []models.Bar, window int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if window > len(bars) {
		window = len(bars)
	}
	avg := Mean(models.Volumes(bars[len(bars)-window:]))
	if avg <= 0 || math.IsNaN(avg) {
		return 0
	}
	return bars[len(bars)-1].Volume / avg
}

// PctChange of the last close against the one before it.
func PctChange(bars []models.Bar) float64 {
	if len(bars) < 2 || bars[len(bars)-2].Close == 0 {
		return 0
	}
	prev := bars[len(bars)-2].Close
	return (bars[len(bars)-1].Close - prev) / prev * 100
}

// Resample aggregates bars into buckets of width d aligned to midnight in
// loc: first open, max high, min low, last close, summed volume.
func Resample(bars []models.Bar, d time.Duration, loc *time.Location) []models.Bar {
	if len(bars) == 0 || d <= 0 {
		return nil
	}
	out := make([]models.Bar, 0, len(bars)/4+1)
	var cur models.Bar
	var curStart time.Time
	open := false
	for _, b := range bars {
		start := util.BucketStart(b.Time, d, loc)
		if open && start.Equal(curStart) {
			cur.High = math.Max(cur.High, b.High)
			cur.Low = math.Min(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur = models.Bar{Time: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
		curStart = start
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}

// Round rounds to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

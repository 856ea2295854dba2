package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-4 }

func TestEMAAdjusted(t *testing.T) {
	got := EMA([]float64{1, 2, 3}, 3)
	want := []float64{1, 1.666667, 2.428571}
	for i := range want {
		if !almost(got[i], want[i]) {
			t.Fatalf("ema[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMAConstantSeries(t *testing.T) {
	for _, v := range EMA([]float64{5, 5, 5, 5}, 12) {
		if !almost(v, 5) {
			t.Fatalf("ema of constant = %v", v)
		}
	}
	if EMA(nil, 3) != nil {
		t.Fatalf("ema of empty should be nil")
	}
}

func TestMACDTrend(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m := MACD(closes, 12, 26, 9)
	if m.Len() != 60 {
		t.Fatalf("len = %d", m.Len())
	}
	last := m.Len() - 1
	if m.MACD[last] <= 0 {
		t.Fatalf("rising series should have positive macd, got %v", m.MACD[last])
	}
	if !almost(m.Histogram[last], m.MACD[last]-m.Signal[last]) {
		t.Fatalf("histogram mismatch")
	}
}

func TestATRAndVolumeRatio(t *testing.T) {
	bars := make([]models.Bar, 10)
	for i := range bars {
		bars[i] = models.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
	}
	bars[9].Volume = 3000
	if got := ATR(bars, 5); !almost(got, 2) {
		t.Fatalf("atr = %v, want 2", got)
	}
	if !math.IsNaN(ATR(bars, 20)) {
		t.Fatalf("atr with too few bars should be NaN")
	}
	if got := VolumeRatio(bars, 5); !almost(got, 3000.0/1400.0) {
		t.Fatalf("volume ratio = %v", got)
	}
}

func TestTrueRangeUsesGap(t *testing.T) {
	bars := []models.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 13, Low: 12, Close: 12.5},
	}
	tr := TrueRange(bars)
	if tr[0] != 1 || tr[1] != 3.5 {
		t.Fatalf("true range = %v", tr)
	}
}

func TestResampleFourHours(t *testing.T) {
	start := time.Date(2024, 5, 6, 9, 15, 0, 0, util.IST)
	var bars []models.Bar
	for i := 0; i < 7; i++ {
		bars = append(bars, models.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   float64(100 + i),
			High:   float64(101 + i),
			Low:    float64(99 + i),
			Close:  float64(100.5 + float64(i)),
			Volume: 10,
		})
	}
	out := Resample(bars, 4*time.Hour, util.IST)
	if len(out) != 2 {
		t.Fatalf("buckets = %d, want 2", len(out))
	}
	first := out[0]
	if !first.Time.Equal(time.Date(2024, 5, 6, 8, 0, 0, 0, util.IST)) {
		t.Fatalf("first bucket at %v", first.Time)
	}
	// 09:15, 10:15, 11:15 fall into 08:00-12:00.
	if first.Open != 100 || first.High != 103 || first.Low != 99 || first.Close != 102.5 || first.Volume != 30 {
		t.Fatalf("first bucket = %+v", first)
	}
	if out[1].Open != 103 || out[1].Close != 106.5 || out[1].Volume != 40 {
		t.Fatalf("second bucket = %+v", out[1])
	}
}

func TestPctChangeAndRound(t *testing.T) {
	bars := []models.Bar{{Close: 100}, {Close: 105}}
	if got := PctChange(bars); !almost(got, 5) {
		t.Fatalf("pct = %v", got)
	}
	if Round(1.23456, 2) != 1.23 {
		t.Fatalf("round")
	}
}

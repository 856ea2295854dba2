package repository

import "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"

// FetchSpec is the upstream request that backs a timeframe. 4h bars are not
// served natively and are built from 1h bars.
type FetchSpec struct {
	Interval string
	Lookback string
	Resample models.Timeframe
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf models.Timeframe) bool {
	switch tf {
	case models.TF15m, models.TF1h, models.TF4h, models.TF1d:
		return true
	default:
		return false
	}
}

func DefaultTimeframe() models.Timeframe { return models.TF4h }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) models.Timeframe {
	tf := models.Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// FetchSpecFor maps a timeframe to interval, lookback and resampling.
func FetchSpecFor(tf models.Timeframe) FetchSpec {
	switch tf {
	case models.TF15m:
		return FetchSpec{Interval: "15m", Lookback: "5d"}
	case models.TF1h:
		return FetchSpec{Interval: "1h", Lookback: "60d"}
	case models.TF1d:
		return FetchSpec{Interval: "1d", Lookback: "1y"}
	default:
		return FetchSpec{Interval: "1h", Lookback: "60d", Resample: models.TF4h}
	}
}

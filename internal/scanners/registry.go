package scanners

import (
	"fmt"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

const (
	MACD15m              = "macd_15m"
	MACD4h               = "macd_4h"
	MACD1d               = "macd_1d"
	RangeBreakout4h      = "range_breakout_4h"
	ResistanceBreakout4h = "resistance_breakout_4h"
	SupportLevel4h       = "support_level_4h"
)

type constructor func(id string, tf models.Timeframe, data repository.MarketDataClient, lgr *logger.Logger) *SeriesScanner

type entry struct {
	id    string
	label string
	tf    models.Timeframe
	build constructor
}

var catalogue = []entry{
	{MACD15m, "MACD 15min", models.TF15m, NewMACDScanner},
	{MACD4h, "MACD 4h", models.TF4h, NewMACDScanner},
	{MACD1d, "MACD 1d", models.TF1d, NewMACDPatternScanner},
	{RangeBreakout4h, "Range Breakout 4h", models.TF4h, NewRangeBreakoutScanner},
	{ResistanceBreakout4h, "Resistance Breakout 4h", models.TF4h, NewResistanceBreakoutScanner},
	{SupportLevel4h, "Support Level 4h", models.TF4h, NewSupportLevelScanner},
}

// IDs lists every known scanner id in display order.
func IDs() []string {
	out := make([]string, len(catalogue))
	for i, e := range catalogue {
		out[i] = e.id
	}
	return out
}

// Label returns the human readable name of a scanner id.
func Label(id string) string {
	for _, e := range catalogue {
		if e.id == id {
			return e.label
		}
	}
	return id
}

// DefaultConfigs enables every scanner on its native timeframe.
func DefaultConfigs() []models.ScannerConfig {
	out := make([]models.ScannerConfig, len(catalogue))
	for i, e := range catalogue {
		out[i] = models.ScannerConfig{ID: e.id, Enabled: true, Timeframe: e.tf}
	}
	return out
}

// Build instantiates the scanners named by ids (all when empty).
func Build(ids []string, data repository.MarketDataClient, lgr *logger.Logger) ([]repository.Scanner, error) {
	if len(ids) == 0 {
		ids = IDs()
	}
	out := make([]repository.Scanner, 0, len(ids))
	for _, id := range ids {
		var found *entry
		for i := range catalogue {
			if catalogue[i].id == id {
				found = &catalogue[i]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownScanner, id)
		}
		out = append(out, found.build(found.id, found.tf, data, lgr))
	}
	return out, nil
}

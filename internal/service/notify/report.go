package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/scanners"
	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"
)

const chartURL = "https://www.tradingview.com/chart/?symbol=NSE:"

// Rule selects which findings of a scanner are reported. An empty Kinds list
// accepts every bullish finding.
type Rule struct {
	ScannerID string
	Label     string
	Kinds     []string
}

func (r Rule) accepts(f models.Finding) bool {
	if f.Signal != models.SignalBullish {
		return false
	}
	if len(r.Kinds) == 0 {
		return true
	}
	for _, k := range r.Kinds {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// DefaultRules is the report layout. Scanners without a rule (macd_15m) are
// never reported.
func DefaultRules() []Rule {
	return []Rule{
		{ScannerID: scanners.MACD4h, Label: "MACD 4H Bullish Crossover", Kinds: []string{"Bullish Crossover"}},
		{ScannerID: scanners.MACD1d, Label: "MACD 1D Bullish Crossover", Kinds: []string{"Bullish MACD Crossover"}},
		{ScannerID: scanners.RangeBreakout4h, Label: "Range Breakout 4H"},
		{ScannerID: scanners.ResistanceBreakout4h, Label: "Resistance Breakout 4H"},
		{ScannerID: scanners.SupportLevel4h, Label: "Support Level 4H"},
	}
}

// Section is the reportable part of one scanner's result.
type Section struct {
	ScannerID string
	Label     string
	Findings  []models.Finding
}

// Select applies rules to a snapshot. Failed results and scanners absent from
// the snapshot produce no section.
func Select(s *models.Snapshot, rules []Rule) []Section {
	var out []Section
	for _, r := range rules {
		res, ok := s.Results[r.ScannerID]
		if !ok || res.Failed() {
			continue
		}
		var picked []models.Finding
		for _, f := range res.Findings {
			if r.accepts(f) && strings.TrimSpace(f.Instrument) != "" {
				picked = append(picked, f)
			}
		}
		if len(picked) > 0 {
			out = append(out, Section{ScannerID: r.ScannerID, Label: r.Label, Findings: picked})
		}
	}
	return out
}

// ChartURL links an instrument to its TradingView chart.
func ChartURL(instrument string) string {
	return chartURL + xutil.DisplaySymbol(strings.TrimSpace(instrument))
}

// Render builds the Markdown report with an inline keyboard of chart links,
// two buttons per row.
func Render(seq uint64, sections []Section, at time.Time) repository.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Market Scanner Report*\n🕒 *Scanned at:* %s\n", xutil.FormatIST(at))

	var buttons []repository.Button
	if len(sections) == 0 {
		b.WriteString("\n_No matching signals found._")
	}
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n*%s:*", sec.Label)
		for _, f := range sec.Findings {
			sym := xutil.DisplaySymbol(strings.TrimSpace(f.Instrument))
			url := ChartURL(sym)
			fmt.Fprintf(&b, "\n• %s [🔗 Chart](%s)", sym, url)
			buttons = append(buttons, repository.Button{Text: sym, URL: url})
		}
	}

	var rows [][]repository.Button
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}

	return repository.Notification{
		ID:       fmt.Sprintf("cycle-%d", seq),
		Text:     b.String(),
		Markdown: true,
		Buttons:  rows,
	}
}

package api

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/scanners"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	xlogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"

	"github.com/labstack/echo/v4"
)

var baseColumns = []string{"Scanner", "Scan_Time", "Instrument", "Signal", "Type", "Strength"}

// Export writes every finding of the latest snapshot as CSV. Metric columns
// are the sorted union over all findings; missing values are left blank.
func (h *ScannerEchoHandler) Export(c echo.Context) error {
	snap, err := h.engine.Snapshot()
	if errors.Is(err, models.ErrNoDataYet) {
		return xhttp.AppErrorResponse(c, errNoData)
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	body, err := ExportCSV(snap)
	if err != nil {
		h.logger.Error("csv export failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("csv export failed").WithError(err))
	}

	name := fmt.Sprintf("nse_scanner_results_%s.csv", snap.CycleStartedAt.In(xutil.IST).Format("20060102_150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", body)
}

// ExportCSV renders a snapshot; scanners appear in id order, findings in strength order.
func ExportCSV(snap *models.Snapshot) ([]byte, error) {
	metricSet := map[string]struct{}{}
	for _, r := range snap.Results {
		for _, f := range r.Findings {
			for k := range f.Metrics {
				metricSet[k] = struct{}{}
			}
		}
	}
	metrics := make([]string, 0, len(metricSet))
	for k := range metricSet {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(append([]string(nil), baseColumns...), metrics...)); err != nil {
		return nil, err
	}

	scanTime := xutil.FormatIST(snap.CycleStartedAt)
	for _, id := range snap.ScannerIDs() {
		for _, f := range snap.Results[id].Findings {
			row := make([]string, 0, len(baseColumns)+len(metrics))
			row = append(row,
				scanners.Label(id),
				scanTime,
				xutil.DisplaySymbol(f.Instrument),
				string(f.Signal),
				f.Kind,
				strconv.FormatFloat(f.Strength, 'f', -1, 64),
			)
			for _, m := range metrics {
				v, ok := f.Metrics[m]
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

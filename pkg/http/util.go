package http

import (
	"fmt"
	"net/http"
	"time"

	xutil "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/util"

	"github.com/labstack/echo/v4"
)

// QueryTimeRange reads "from" and "to" query parameters. Missing bounds default
// to [now-lookback, now]; an unparseable bound is a bad request.
func QueryTimeRange(c echo.Context, now time.Time, lookback time.Duration) (TimeRange, *AppError) {
	tr := TimeRange{From: now.Add(-lookback), To: now}
	for name, dst := range map[string]*time.Time{"from": &tr.From, "to": &tr.To} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		t, ok := xutil.ParseTime(raw)
		if !ok {
			return tr, NewAppError("ERR_INVALID_TIME", name, fmt.Sprintf("%s must be RFC3339 or unix seconds", name), http.StatusBadRequest)
		}
		*dst = t
	}
	if tr.To.Before(tr.From) {
		return tr, NewAppError("ERR_INVALID_RANGE", "from", "from must not be after to", http.StatusBadRequest)
	}
	return tr, nil
}

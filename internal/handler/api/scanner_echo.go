package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	domrepo "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/scanners"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"
	xlogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ScanEngine is what the presentation layer needs from the engine.
type ScanEngine interface {
	Snapshot() (*models.Snapshot, error)
	TriggerManualRun() (engine.TriggerOutcome, error)
	Health() engine.Health
	Heartbeat(sessionID string)
	ScannerConfigs() []models.ScannerConfig
	UpdateScannerConfig(id string, fn func(*models.ScannerConfig)) (models.ScannerConfig, error)
}

// ScannerEchoHandler serves the scanner presentation API.
type ScannerEchoHandler struct {
	logger  *xlogger.Logger
	engine  ScanEngine
	history domrepo.HistoryStore
	now     func() time.Time
}

// NewScannerEchoHandler builds the handler; history may be nil when no store is configured.
func NewScannerEchoHandler(logger *xlogger.Logger, eng ScanEngine, history domrepo.HistoryStore) *ScannerEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ScannerEchoHandler{logger: logger, engine: eng, history: history, now: time.Now}
}

func (h *ScannerEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Liveness)

	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/snapshot", h.Snapshot)
	g.GET("/snapshot/:scanner", h.ScannerResult)
	g.POST("/scan", h.Scan)
	g.POST("/heartbeat", h.Heartbeat)
	g.GET("/scanners", h.Scanners)
	g.PUT("/scanners/:id", h.UpdateScanner)
	g.GET("/export.csv", h.Export)
	g.GET("/history", h.History)
}

var (
	errNoData     = xhttp.UnavailableError("ERR_NO_DATA", "no scan has completed yet")
	errNotRunning = xhttp.ConflictError("ERR_NOT_RUNNING", "scanner engine is not running")
	errNoHistory  = xhttp.UnavailableError("ERR_HISTORY_DISABLED", "history store is not configured")
)

func (h *ScannerEchoHandler) Liveness(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type healthResponse struct {
	engine.Health
	Scanners []scannerView `json:"scanners"`
}

func (h *ScannerEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, healthResponse{Health: h.engine.Health(), Scanners: h.scannerViews()})
}

func (h *ScannerEchoHandler) Snapshot(c echo.Context) error {
	req := &models.SnapshotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.engine.Snapshot()
	if errors.Is(err, models.ErrNoDataYet) {
		return xhttp.AppErrorResponse(c, errNoData)
	}
	if err != nil {
		h.logger.Error("snapshot read failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if req.Signal == "" && req.Limit == 0 {
		return xhttp.SuccessResponse(c, snap)
	}

	// Filtering builds a new value; the published snapshot stays untouched.
	out := *snap
	out.Results = make(map[string]models.CycleResult, len(snap.Results))
	for id, r := range snap.Results {
		r.Findings = filterFindings(r.Findings, models.Signal(req.Signal), req.Limit)
		out.Results[id] = r
	}
	return xhttp.SuccessResponse(c, &out)
}

func (h *ScannerEchoHandler) ScannerResult(c echo.Context) error {
	id := c.Param("scanner")
	snap, err := h.engine.Snapshot()
	if errors.Is(err, models.ErrNoDataYet) {
		return xhttp.AppErrorResponse(c, errNoData)
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	res, ok := snap.Results[id]
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("scanner %q has no result in cycle %d", id, snap.Sequence))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"cycle_sequence":   snap.Sequence,
		"cycle_started_at": snap.CycleStartedAt,
		"label":            scanners.Label(id),
		"result":           res,
	})
}

func (h *ScannerEchoHandler) Scan(c echo.Context) error {
	outcome, err := h.engine.TriggerManualRun()
	if errors.Is(err, models.ErrNotStarted) {
		return xhttp.AppErrorResponse(c, errNotRunning)
	}
	if err != nil {
		h.logger.Error("manual trigger failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
}

func (h *ScannerEchoHandler) Heartbeat(c echo.Context) error {
	req := &models.HeartbeatRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	h.engine.Heartbeat(req.SessionID)
	return xhttp.SuccessResponse(c, map[string]string{"session_id": req.SessionID})
}

type scannerView struct {
	models.ScannerConfig
	Label string `json:"label"`
}

func (h *ScannerEchoHandler) scannerViews() []scannerView {
	cfgs := h.engine.ScannerConfigs()
	out := make([]scannerView, len(cfgs))
	for i, c := range cfgs {
		out[i] = scannerView{ScannerConfig: c, Label: scanners.Label(c.ID)}
	}
	return out
}

func (h *ScannerEchoHandler) Scanners(c echo.Context) error {
	views := h.scannerViews()
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *ScannerEchoHandler) UpdateScanner(c echo.Context) error {
	req := &models.ScannerUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := c.Param("id")
	cfg, err := h.engine.UpdateScannerConfig(id, func(sc *models.ScannerConfig) {
		if req.Enabled != nil {
			sc.Enabled = *req.Enabled
		}
		if len(req.Parameters) > 0 && sc.Parameters == nil {
			sc.Parameters = make(map[string]float64, len(req.Parameters))
		}
		for k, v := range req.Parameters {
			sc.Parameters[k] = v
		}
	})
	if errors.Is(err, models.ErrUnknownScanner) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown scanner %q", id))
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, scannerView{ScannerConfig: cfg, Label: scanners.Label(cfg.ID)})
}

func (h *ScannerEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, errNoHistory)
	}
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tr, appErr := xhttp.QueryTimeRange(c, h.now(), 24*time.Hour)
	if appErr != nil {
		return xhttp.BadRequestResponse(c, []*xhttp.AppError{appErr})
	}

	rows, err := h.history.Query(c.Request().Context(), domrepo.HistoryQuery{
		ScannerID:  req.Scanner,
		Instrument: req.Instrument,
		From:       tr.From,
		To:         tr.To,
		Limit:      req.Limit,
	})
	if err != nil {
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func filterFindings(in []models.Finding, signal models.Signal, limit int) []models.Finding {
	out := make([]models.Finding, 0, len(in))
	for _, f := range in {
		if signal != "" && f.Signal != signal {
			continue
		}
		out = append(out, f)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	domrepo "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/scanners"
	xhttp "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/http"

	"github.com/labstack/echo/v4"
)

type fakeEngine struct {
	mu         sync.Mutex
	snap       *models.Snapshot
	outcome    engine.TriggerOutcome
	triggerErr error
	sessions   []string
	configs    map[string]models.ScannerConfig
}

func (f *fakeEngine) Snapshot() (*models.Snapshot, error) {
	if f.snap == nil {
		return nil, models.ErrNoDataYet
	}
	return f.snap, nil
}

func (f *fakeEngine) TriggerManualRun() (engine.TriggerOutcome, error) {
	return f.outcome, f.triggerErr
}

func (f *fakeEngine) Health() engine.Health {
	return engine.Health{State: engine.StateRunning, Interval: 15 * time.Minute}
}

func (f *fakeEngine) Heartbeat(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, id)
}

func (f *fakeEngine) ScannerConfigs() []models.ScannerConfig {
	out := make([]models.ScannerConfig, 0, len(f.configs))
	for _, id := range scanners.IDs() {
		if c, ok := f.configs[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (f *fakeEngine) UpdateScannerConfig(id string, fn func(*models.ScannerConfig)) (models.ScannerConfig, error) {
	c, ok := f.configs[id]
	if !ok {
		return models.ScannerConfig{}, models.ErrUnknownScanner
	}
	c = c.Clone()
	fn(&c)
	f.configs[id] = c
	return c.Clone(), nil
}

type fakeHistory struct {
	last domrepo.HistoryQuery
	rows []domrepo.HistoryRow
}

func (f *fakeHistory) Init(context.Context) error { return nil }
func (f *fakeHistory) StoreCycle(context.Context, *models.Snapshot) error { return nil }
func (f *fakeHistory) Health(context.Context) error { return nil }
func (f *fakeHistory) Close() error { return nil }
func (f *fakeHistory) Query(_ context.Context, q domrepo.HistoryQuery) ([]domrepo.HistoryRow, error) {
	f.last = q
	return f.rows, nil
}

var cycleStart = time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC) // 09:30 IST

func sampleSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Sequence:       7,
		CycleStartedAt: cycleStart,
		Trigger:        models.TriggerScheduled,
		Results: map[string]models.CycleResult{
			scanners.MACD4h: {
				ScannerID: scanners.MACD4h,
				Findings: []models.Finding{
					{Instrument: "TCS.NS", Signal: models.SignalBullish, Kind: "Bullish Crossover", Strength: 81.5, Metrics: map[string]float64{"macd": 1.25}},
					{Instrument: "INFY.NS", Signal: models.SignalBearish, Kind: "Bearish Crossover", Strength: 40},
				},
			},
			scanners.RangeBreakout4h: {
				ScannerID: scanners.RangeBreakout4h,
				Findings: []models.Finding{
					{Instrument: "SBIN.NS", Signal: models.SignalBullish, Kind: "Bullish Range Breakout", Strength: 55, Metrics: map[string]float64{"atr": 3.5}},
				},
			},
		},
	}
}

func newFixture(t *testing.T, snap *models.Snapshot, history domrepo.HistoryStore) (*echo.Echo, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{
		snap:    snap,
		outcome: engine.TriggerAccepted,
		configs: map[string]models.ScannerConfig{},
	}
	for _, c := range scanners.DefaultConfigs() {
		eng.configs[c.ID] = c
	}
	h := NewScannerEchoHandler(nil, eng, history)
	h.now = func() time.Time { return cycleStart.Add(time.Hour) }
	e := echo.New()
	h.RegisterRoutes(e)
	return e, eng
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) int {
	t.Helper()
	env := struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v (%s)", err, env.Data)
		}
	}
	return env.Status
}

func TestLivenessAndHealth(t *testing.T) {
	e, _ := newFixture(t, nil, nil)

	rec := do(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("/healthz = %d %q", rec.Code, rec.Body.String())
	}

	var got struct {
		State    string `json:"state"`
		Scanners []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"scanners"`
	}
	if st := decode(t, do(e, http.MethodGet, "/api/health", ""), &got); st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	if got.State != string(engine.StateRunning) || len(got.Scanners) != len(scanners.IDs()) {
		t.Fatalf("health = %+v", got)
	}
	if got.Scanners[0].Label != "MACD 15min" {
		t.Fatalf("first scanner = %+v", got.Scanners[0])
	}
}

func TestSnapshotBeforeFirstCycle(t *testing.T) {
	e, _ := newFixture(t, nil, nil)
	rec := do(e, http.MethodGet, "/api/snapshot", "")
	if st := decode(t, rec, nil); st != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", st)
	}
	if !strings.Contains(rec.Body.String(), "ERR_NO_DATA") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSnapshotFilterLeavesPublishedValueIntact(t *testing.T) {
	snap := sampleSnapshot()
	e, _ := newFixture(t, snap, nil)

	var got models.Snapshot
	if st := decode(t, do(e, http.MethodGet, "/api/snapshot?signal=bullish", ""), &got); st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	if n := len(got.Results[scanners.MACD4h].Findings); n != 1 {
		t.Fatalf("filtered findings = %d", n)
	}
	if n := len(snap.Results[scanners.MACD4h].Findings); n != 2 {
		t.Fatalf("published snapshot mutated: %d findings", n)
	}

	if st := decode(t, do(e, http.MethodGet, "/api/snapshot?signal=sideways", ""), nil); st != http.StatusBadRequest {
		t.Fatalf("bad signal status = %d", st)
	}
}

func TestScannerResult(t *testing.T) {
	e, _ := newFixture(t, sampleSnapshot(), nil)

	var got struct {
		Sequence uint64             `json:"cycle_sequence"`
		Label    string             `json:"label"`
		Result   models.CycleResult `json:"result"`
	}
	if st := decode(t, do(e, http.MethodGet, "/api/snapshot/"+scanners.RangeBreakout4h, ""), &got); st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	if got.Sequence != 7 || got.Label != "Range Breakout 4h" || len(got.Result.Findings) != 1 {
		t.Fatalf("result = %+v", got)
	}
	if st := decode(t, do(e, http.MethodGet, "/api/snapshot/"+scanners.MACD15m, ""), nil); st != http.StatusNotFound {
		t.Fatalf("absent scanner status = %d", st)
	}
}

func TestScanTrigger(t *testing.T) {
	e, eng := newFixture(t, nil, nil)

	var got map[string]string
	if st := decode(t, do(e, http.MethodPost, "/api/scan", ""), &got); st != http.StatusAccepted {
		t.Fatalf("status = %d", st)
	}
	if got["outcome"] != string(engine.TriggerAccepted) {
		t.Fatalf("outcome = %v", got)
	}

	eng.triggerErr = models.ErrNotStarted
	rec := do(e, http.MethodPost, "/api/scan", "")
	if st := decode(t, rec, nil); st != http.StatusConflict || !strings.Contains(rec.Body.String(), "ERR_NOT_RUNNING") {
		t.Fatalf("stopped engine = %d %s", st, rec.Body.String())
	}

	eng.triggerErr = errors.New("boom")
	if st := decode(t, do(e, http.MethodPost, "/api/scan", ""), nil); st != http.StatusInternalServerError {
		t.Fatalf("unexpected error status = %d", st)
	}
}

func TestHeartbeat(t *testing.T) {
	e, eng := newFixture(t, nil, nil)

	var got map[string]string
	decode(t, do(e, http.MethodPost, "/api/heartbeat", `{"session_id":"tab-1"}`), &got)
	if got["session_id"] != "tab-1" {
		t.Fatalf("session = %v", got)
	}
	decode(t, do(e, http.MethodPost, "/api/heartbeat", ""), &got)
	if got["session_id"] == "" || got["session_id"] == "tab-1" {
		t.Fatalf("generated session = %v", got)
	}
	if len(eng.sessions) != 2 || eng.sessions[0] != "tab-1" {
		t.Fatalf("heartbeats = %v", eng.sessions)
	}
}

func TestUpdateScanner(t *testing.T) {
	e, eng := newFixture(t, nil, nil)

	var got struct {
		Enabled    bool               `json:"enabled"`
		Parameters map[string]float64 `json:"parameters"`
	}
	body := `{"enabled":false,"parameters":{"fast":8}}`
	if st := decode(t, do(e, http.MethodPut, "/api/scanners/"+scanners.MACD4h, body), &got); st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	if got.Enabled || got.Parameters["fast"] != 8 {
		t.Fatalf("updated = %+v", got)
	}
	if c := eng.configs[scanners.MACD4h]; c.Enabled || c.Param("fast", 0) != 8 {
		t.Fatalf("engine config = %+v", c)
	}

	if st := decode(t, do(e, http.MethodPut, "/api/scanners/nope", body), nil); st != http.StatusNotFound {
		t.Fatalf("unknown scanner status = %d", st)
	}

	var list xhttp.ListDataResponse
	decode(t, do(e, http.MethodGet, "/api/scanners", ""), &list)
	if list.Total != int64(len(scanners.IDs())) {
		t.Fatalf("total = %d", list.Total)
	}
}

func TestExportCSV(t *testing.T) {
	e, _ := newFixture(t, sampleSnapshot(), nil)

	rec := do(e, http.MethodGet, "/api/export.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "nse_scanner_results_20240304_093000.csv") {
		t.Fatalf("content disposition = %q", cd)
	}

	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	header := strings.Join(records[0], ",")
	if header != "Scanner,Scan_Time,Instrument,Signal,Type,Strength,atr,macd" {
		t.Fatalf("header = %s", header)
	}
	if len(records) != 4 {
		t.Fatalf("rows = %d", len(records))
	}
	// macd_4h sorts before range_breakout_4h.
	first := records[1]
	if first[0] != "MACD 4h" || first[2] != "TCS" || first[6] != "" || first[7] != "1.25" {
		t.Fatalf("first row = %v", first)
	}
	if first[1] != "04 Mar 2024, 09:30 AM IST" {
		t.Fatalf("scan time = %q", first[1])
	}
	if last := records[3]; last[0] != "Range Breakout 4h" || last[6] != "3.5" {
		t.Fatalf("last row = %v", last)
	}
}

func TestHistory(t *testing.T) {
	e, _ := newFixture(t, nil, nil)
	if st := decode(t, do(e, http.MethodGet, "/api/history", ""), nil); st != http.StatusServiceUnavailable {
		t.Fatalf("no store status = %d", st)
	}

	store := &fakeHistory{rows: []domrepo.HistoryRow{{Sequence: 3, ScannerID: scanners.MACD1d}}}
	e, _ = newFixture(t, nil, store)

	var list xhttp.ListDataResponse
	if st := decode(t, do(e, http.MethodGet, "/api/history?scanner=macd_1d&limit=10", ""), &list); st != http.StatusOK {
		t.Fatalf("status = %d", st)
	}
	if list.Total != 1 {
		t.Fatalf("total = %d", list.Total)
	}
	q := store.last
	if q.ScannerID != scanners.MACD1d || q.Limit != 10 {
		t.Fatalf("query = %+v", q)
	}
	if want := cycleStart.Add(time.Hour); !q.To.Equal(want) || !q.From.Equal(want.Add(-24*time.Hour)) {
		t.Fatalf("range = %v..%v", q.From, q.To)
	}

	decode(t, do(e, http.MethodGet, "/api/history", ""), nil)
	if store.last.Limit != 200 {
		t.Fatalf("default limit = %d", store.last.Limit)
	}
	if st := decode(t, do(e, http.MethodGet, "/api/history?limit=6000", ""), nil); st != http.StatusBadRequest {
		t.Fatalf("limit=6000 status = %d", st)
	}
}

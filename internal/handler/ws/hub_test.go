package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type sessions struct {
	mu     sync.Mutex
	beats  map[string]int
	forgot map[string]bool
}

func (s *sessions) Heartbeat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats[id]++
}

func (s *sessions) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgot[id] = true
}

func (s *sessions) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.beats), len(s.forgot)
}

type source struct{ snap *models.Snapshot }

func (s source) Snapshot() (*models.Snapshot, error) {
	if s.snap == nil {
		return nil, models.ErrNoDataYet
	}
	return s.snap, nil
}

func sample(seq uint64) *models.Snapshot {
	return &models.Snapshot{
		Sequence: seq,
		Trigger:  models.TriggerScheduled,
		Results: map[string]models.CycleResult{
			"macd_4h": {ScannerID: "macd_4h", Attempts: 1, Findings: []models.Finding{
				{Instrument: "TCS", Signal: models.SignalBullish},
				{Instrument: "INFY", Signal: models.SignalBearish},
			}},
			"support_level_4h": {ScannerID: "support_level_4h", Attempts: 3, Error: &models.ErrorInfo{Kind: models.KindRateLimited}},
		},
	}
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/snapshots"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string          `json:"type"`
		Data SnapshotSummary `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return Message{Type: msg.Type, Data: msg.Data}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestHubSendsCurrentThenBroadcasts(t *testing.T) {
	sess := &sessions{beats: map[string]int{}, forgot: map[string]bool{}}
	h := NewHub(sess, source{snap: sample(1)}, nil)
	conn := dial(t, h)

	first := readMessage(t, conn).Data.(SnapshotSummary)
	if first.Sequence != 1 {
		t.Fatalf("initial sequence = %d", first.Sequence)
	}
	got := first.Scanners["macd_4h"]
	if got.Findings != 2 || got.Bullish != 1 {
		t.Fatalf("macd summary = %+v", got)
	}
	if first.Scanners["support_level_4h"].Error != models.KindRateLimited {
		t.Fatalf("error kind missing: %+v", first.Scanners)
	}

	waitFor(t, func() bool { return h.Clients() == 1 })
	if err := h.Deliver(context.Background(), sample(2)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if next := readMessage(t, conn).Data.(SnapshotSummary); next.Sequence != 2 {
		t.Fatalf("broadcast sequence = %d", next.Sequence)
	}
	if beats, _ := sess.counts(); beats != 1 {
		t.Fatalf("sessions with heartbeats = %d", beats)
	}
}

func TestHubForgetsSessionOnDisconnect(t *testing.T) {
	sess := &sessions{beats: map[string]int{}, forgot: map[string]bool{}}
	h := NewHub(sess, source{}, nil)
	conn := dial(t, h)
	waitFor(t, func() bool { return h.Clients() == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitFor(t, func() bool { return h.Clients() == 0 })
	waitFor(t, func() bool { _, forgot := sess.counts(); return forgot == 1 })
}

func TestHubClientFramesCountAsHeartbeats(t *testing.T) {
	sess := &sessions{beats: map[string]int{}, forgot: map[string]bool{}}
	h := NewHub(sess, source{}, nil)
	conn := dial(t, h)
	waitFor(t, func() bool { return h.Clients() == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		for _, n := range sess.beats {
			if n >= 2 {
				return true
			}
		}
		return false
	})

	h.Close()
	waitFor(t, func() bool { return h.Clients() == 0 })
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(WithRegisterer(reg))

	r.RecordCycle("scheduled", 2*time.Second, 7)
	r.RecordCycle("manual", time.Second, 8)
	r.RecordScannerRun("macd_4h", "error", 3, 5*time.Second, 0)
	r.RecordConsecutiveFailures("macd_4h", 2)
	r.RecordSkippedTicks("overrun", 3)
	r.RecordSkippedTicks("idle", 0)
	r.RecordManualTrigger("coalesced")
	r.RecordNotification("sent")

	if got := testutil.ToFloat64(r.cycles.WithLabelValues("scheduled")); got != 1 {
		t.Fatalf("scheduled cycles = %v", got)
	}
	if got := testutil.ToFloat64(r.lastSequence); got != 8 {
		t.Fatalf("sequence = %v", got)
	}
	if got := testutil.ToFloat64(r.attempts.WithLabelValues("macd_4h")); got != 3 {
		t.Fatalf("attempts = %v", got)
	}
	if got := testutil.ToFloat64(r.consecutive.WithLabelValues("macd_4h")); got != 2 {
		t.Fatalf("consecutive = %v", got)
	}
	if got := testutil.ToFloat64(r.skippedTicks.WithLabelValues("overrun")); got != 3 {
		t.Fatalf("skipped = %v", got)
	}
	if n := testutil.CollectAndCount(r.skippedTicks); n != 1 {
		t.Fatalf("zero skips must not create a series, got %d", n)
	}
}

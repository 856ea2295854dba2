package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"transient", TransientNetwork("fetch", errors.New("reset")), KindTransientNetwork, true},
		{"rate limited wrapped", fmt.Errorf("scan: %w", RateLimited("fetch", nil)), KindRateLimited, true},
		{"malformed", MalformedData("decode", "TCS", errors.New("bad json")), KindMalformedData, false},
		{"unsupported", UnsupportedInstrument("fetch", "XYZ", nil), KindUnsupportedInstrument, false},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), KindTimeout, true},
		{"unknown", errors.New("boom"), KindInternal, false},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Errorf("%s: kind = %q, want %q", tc.name, got, tc.kind)
		}
		if got := IsRetryable(tc.err); got != tc.retryable {
			t.Errorf("%s: retryable = %v, want %v", tc.name, got, tc.retryable)
		}
	}
}

func TestScanErrorMessage(t *testing.T) {
	err := MalformedData("decode", "INFY", errors.New("unexpected EOF"))
	if got := err.Error(); got != "decode INFY: unexpected EOF" {
		t.Fatalf("message = %q", got)
	}
	if got := RateLimited("fetch", nil).Error(); got != "fetch: rate_limited" {
		t.Fatalf("message = %q", got)
	}
}

func TestHealthCountersCloneIsDeep(t *testing.T) {
	h := HealthCounters{ConsecutiveFailures: map[string]int{"a": 1}}
	c := h.Clone()
	c.ConsecutiveFailures["a"] = 5
	if h.ConsecutiveFailures["a"] != 1 {
		t.Fatalf("clone aliases source map")
	}
}

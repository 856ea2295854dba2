package models

import (
	"sort"
	"time"
)

type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// Finding is a single observation produced by a scanner for one instrument.
// Values are never mutated after construction.
type Finding struct {
	Instrument string             `json:"instrument"`
	Signal     Signal             `json:"signal"`
	Kind       string             `json:"kind"`
	Strength   float64            `json:"strength"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	AsOf       time.Time          `json:"as_of"`
}

// ErrorInfo is the serialisable outcome of a failed scanner run.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CycleResult is the outcome of one scanner within one cycle.
type CycleResult struct {
	ScannerID string        `json:"scanner_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Findings  []Finding     `json:"findings"`
	Error     *ErrorInfo    `json:"error,omitempty"`
}

func (r CycleResult) Failed() bool { return r.Error != nil }

// Bullish returns the bullish findings in strength order.
func (r CycleResult) Bullish() []Finding {
	out := make([]Finding, 0, len(r.Findings))
	for _, f := range r.Findings {
		if f.Signal == SignalBullish {
			out = append(out, f)
		}
	}
	return out
}

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ScanErrorRecord is an entry of the bounded recent-error log.
type ScanErrorRecord struct {
	At        time.Time `json:"at"`
	ScannerID string    `json:"scanner_id"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// HealthCounters are monotonic counters kept by the scheduler loop. Only
// ConsecutiveFailures ever goes back down, and only to zero on success.
type HealthCounters struct {
	TotalCycles         uint64               `json:"total_cycles"`
	TotalErrors         uint64               `json:"total_errors"`
	ConsecutiveFailures map[string]int       `json:"consecutive_failures"`
	LastSuccessAt       map[string]time.Time `json:"last_success_at"`
	RecentErrors        []ScanErrorRecord    `json:"recent_errors,omitempty"`
}

// Clone returns a deep copy so a published snapshot never aliases loop state.
func (h HealthCounters) Clone() HealthCounters {
	out := HealthCounters{
		TotalCycles:         h.TotalCycles,
		TotalErrors:         h.TotalErrors,
		ConsecutiveFailures: make(map[string]int, len(h.ConsecutiveFailures)),
		LastSuccessAt:       make(map[string]time.Time, len(h.LastSuccessAt)),
	}
	for k, v := range h.ConsecutiveFailures {
		out.ConsecutiveFailures[k] = v
	}
	for k, v := range h.LastSuccessAt {
		out.LastSuccessAt[k] = v
	}
	if len(h.RecentErrors) > 0 {
		out.RecentErrors = append([]ScanErrorRecord(nil), h.RecentErrors...)
	}
	return out
}

// Snapshot is the unit of publication. Once handed to the result store it is
// shared by every reader and must be treated as read-only.
type Snapshot struct {
	Sequence       uint64                 `json:"cycle_sequence"`
	CycleStartedAt time.Time              `json:"cycle_started_at"`
	Trigger        Trigger                `json:"trigger"`
	Results        map[string]CycleResult `json:"results"`
	Health         HealthCounters         `json:"health"`
}

// ScannerIDs returns the ids present in the snapshot, sorted.
func (s *Snapshot) ScannerIDs() []string {
	ids := make([]string, 0, len(s.Results))
	for id := range s.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Timeframe is the resolution a scanner analyses.
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// ScannerConfig is the runtime configuration of one scanner. The scheduler
// reads a copy at the start of each cycle.
type ScannerConfig struct {
	ID         string             `json:"id" yaml:"id"`
	Enabled    bool               `json:"enabled" yaml:"enabled"`
	Timeframe  Timeframe          `json:"timeframe" yaml:"timeframe"`
	Parameters map[string]float64 `json:"parameters,omitempty" yaml:"parameters"`
}

func (c ScannerConfig) Clone() ScannerConfig {
	out := c
	if c.Parameters != nil {
		out.Parameters = make(map[string]float64, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Param returns a numeric parameter or def when unset.
func (c ScannerConfig) Param(name string, def float64) float64 {
	if v, ok := c.Parameters[name]; ok {
		return v
	}
	return def
}

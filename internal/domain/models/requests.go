package models

// Requests for the presentation HTTP endpoints.

type HeartbeatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

type HistoryRequest struct {
	Scanner    string `query:"scanner" json:"scanner" validate:"omitempty,max=64"`
	Instrument string `query:"instrument" json:"instrument" validate:"omitempty,symbol"`
	Limit      int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type ScannerUpdateRequest struct {
	Enabled    *bool              `json:"enabled"`
	Parameters map[string]float64 `json:"parameters" validate:"omitempty,max=32"`
}

type SnapshotRequest struct {
	Signal string `query:"signal" json:"signal" validate:"omitempty,oneof=bullish bearish neutral"`
	Limit  int    `query:"limit" json:"limit" default:"0" validate:"gte=0,lte=1000"`
}

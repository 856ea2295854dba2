package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/repository"
	pkgch "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/clickhouse"
	applogger "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

const (
	historyColumns = "cycle_sequence, cycle_started_at, scanner_id, instrument, signal, kind, strength, metrics, as_of"
	insertChunk    = 1000
	maxQueryLimit  = 5000
)

// CHHistoryStore keeps every published finding in a MergeTree table with TTL retention.
type CHHistoryStore struct {
	db      *sql.DB
	table   string
	ttlDays int
	l       *applogger.Logger
}

func NewCHHistoryStore(ch *pkgch.Client, table string, ttlDays int, l *applogger.Logger) *CHHistoryStore {
	if table == "" {
		table = ch.Database() + ".scan_findings"
	}
	if ttlDays <= 0 {
		ttlDays = 30
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHHistoryStore{db: ch.DB(), table: table, ttlDays: ttlDays, l: l}
}

var _ repository.HistoryStore = (*CHHistoryStore)(nil)

func (s *CHHistoryStore) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            cycle_sequence   UInt64,
            cycle_started_at DateTime64(3, 'UTC'),
            scanner_id       LowCardinality(String),
            instrument       String,
            signal           LowCardinality(String),
            kind             String,
            strength         Float64,
            metrics          String,
            as_of            DateTime64(3, 'UTC')
        )
        ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(cycle_started_at)
        ORDER BY (scanner_id, instrument, cycle_started_at)
        TTL toDateTime(cycle_started_at) + INTERVAL %d DAY
    `, s.table, s.ttlDays)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreCycle inserts every finding of the snapshot. Failed scanners store nothing.
func (s *CHHistoryStore) StoreCycle(ctx context.Context, snap *models.Snapshot) error {
	start := time.Now()
	rows, err := historyRows(snap)
	if err != nil {
		return err
	}
	for lo := 0; lo < len(rows); lo += insertChunk {
		hi := lo + insertChunk
		if hi > len(rows) {
			hi = len(rows)
		}
		q, args := insertStatement(s.table, rows[lo:hi])
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_cycle insert error",
				applogger.String("table", s.table),
				applogger.Uint64("sequence", snap.Sequence),
				applogger.Error(err))
			return fmt.Errorf("insert findings: %w", err)
		}
	}
	s.l.Debug("clickhouse store_cycle ok",
		applogger.Uint64("sequence", snap.Sequence),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (s *CHHistoryStore) Query(ctx context.Context, hq repository.HistoryQuery) ([]repository.HistoryRow, error) {
	q, args := selectStatement(s.table, hq)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]repository.HistoryRow, 0, 64)
	for rows.Next() {
		var (
			r       repository.HistoryRow
			signal  string
			metrics string
		)
		if err := rows.Scan(&r.Sequence, &r.CycleStartedAt, &r.ScannerID, &r.Finding.Instrument,
			&signal, &r.Finding.Kind, &r.Finding.Strength, &metrics, &r.Finding.AsOf); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Finding.Signal = models.Signal(signal)
		if metrics != "" {
			if err := json.Unmarshal([]byte(metrics), &r.Finding.Metrics); err != nil {
				return nil, models.MalformedData("history", r.Finding.Instrument, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *CHHistoryStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.
func (s *CHHistoryStore) Close() error { return nil }

type historyRow struct {
	sequence  uint64
	startedAt time.Time
	scannerID string
	finding   models.Finding
	metrics   string
}

func historyRows(snap *models.Snapshot) ([]historyRow, error) {
	var out []historyRow
	for _, id := range snap.ScannerIDs() {
		for _, f := range snap.Results[id].Findings {
			m, err := json.Marshal(f.Metrics)
			if err != nil {
				return nil, fmt.Errorf("marshal metrics: %w", err)
			}
			out = append(out, historyRow{
				sequence:  snap.Sequence,
				startedAt: snap.CycleStartedAt.UTC(),
				scannerID: id,
				finding:   f,
				metrics:   string(m),
			})
		}
	}
	return out, nil
}

func insertStatement(table string, rows []historyRow) (string, []interface{}) {
	values := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*9)
	for i, r := range rows {
		values[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, r.sequence, r.startedAt, r.scannerID, r.finding.Instrument,
			string(r.finding.Signal), r.finding.Kind, r.finding.Strength, r.metrics, r.finding.AsOf.UTC())
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, historyColumns, strings.Join(values, ",")), args
}

func selectStatement(table string, hq repository.HistoryQuery) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if hq.ScannerID != "" {
		where = append(where, "scanner_id = ?")
		args = append(args, hq.ScannerID)
	}
	if hq.Instrument != "" {
		where = append(where, "instrument = ?")
		args = append(args, hq.Instrument)
	}
	if !hq.From.IsZero() {
		where = append(where, "cycle_started_at >= ?")
		args = append(args, hq.From.UTC())
	}
	if !hq.To.IsZero() {
		where = append(where, "cycle_started_at <= ?")
		args = append(args, hq.To.UTC())
	}

	limit := hq.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", historyColumns, table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY cycle_started_at DESC, strength DESC LIMIT ?")
	args = append(args, limit)
	return b.String(), args
}

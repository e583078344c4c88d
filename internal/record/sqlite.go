// Package record persists decisions: a SQLite decision log for status
// queries and a CSV recorder whose files replay can read back.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/GoPolymarket/weather-trader/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	market TEXT NOT NULL,
	ts INTEGER NOT NULL,
	day TEXT NOT NULL,
	signal TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT,
	phase INTEGER,
	resonance INTEGER,
	duration INTEGER,
	predicted INTEGER,
	contract TEXT,
	ask REAL,
	consensus_actual REAL,
	consensus_forecast REAL,
	divergence REAL,
	band TEXT,
	available INTEGER,
	guard_locked INTEGER NOT NULL,
	guard_reason TEXT,
	risky_sources INTEGER,
	guard_recompute INTEGER,
	order_submitted INTEGER NOT NULL DEFAULT 0,
	order_id TEXT,
	order_status TEXT,
	order_error TEXT,
	sources TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_market_ts ON decisions(market, ts);
CREATE TABLE IF NOT EXISTS day_summaries (
	market TEXT NOT NULL,
	day TEXT NOT NULL,
	run_id TEXT NOT NULL,
	fired INTEGER NOT NULL,
	fired_type TEXT,
	day_max REAL,
	PRIMARY KEY (market, day, run_id)
);
`

// Row is one stored decision.
type Row struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Market      string    `json:"market"`
	Time        time.Time `json:"time"`
	Day         string    `json:"day"`
	Signal      string    `json:"signal"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
	Phase       int       `json:"phase"`
	Resonance   int       `json:"resonance"`
	Duration    int       `json:"duration"`
	Contract    string    `json:"contract,omitempty"`
	Ask         float64   `json:"ask,omitempty"`
	GuardLocked bool      `json:"guard_locked"`
	GuardReason string    `json:"guard_reason,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	OrderError  string    `json:"order_error,omitempty"`
}

// DaySummary is one stored day close.
type DaySummary struct {
	Market    string   `json:"market"`
	Day       string   `json:"day"`
	Fired     bool     `json:"fired"`
	FiredType string   `json:"fired_type,omitempty"`
	DayMax    *float64 `json:"day_max,omitempty"`
}

// Store is a SQLite decision log.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, runID: uuid.NewString()}, nil
}

func (s *Store) RunID() string { return s.runID }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Persist(ctx context.Context, d engine.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if d.Closed != nil {
		var dayMax any
		if d.Closed.DayMax.OK {
			dayMax = d.Closed.DayMax.C
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO day_summaries (market, day, run_id, fired, fired_type, day_max) VALUES (?, ?, ?, ?, ?, ?)`,
			d.Closed.Day.Market, d.Closed.Day.Date, s.runID, d.Closed.Fired, string(d.Closed.FiredType), dayMax,
		); err != nil {
			return fmt.Errorf("insert day summary: %w", err)
		}
	}

	sources, err := json.Marshal(sourceValues(d))
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	sig := d.Signal
	_, err = tx.ExecContext(ctx, `INSERT INTO decisions (
		id, run_id, market, ts, day, signal, reason, detail, phase, resonance, duration, predicted,
		contract, ask, consensus_actual, consensus_forecast, divergence, band, available,
		guard_locked, guard_reason, risky_sources, guard_recompute,
		order_submitted, order_id, order_status, order_error, sources
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.runID, d.Market, d.Time.UnixMilli(), d.Strategy.Day.Date,
		string(sig.Type), string(sig.Reason), sig.Detail, sig.Phase, sig.Resonance, sig.Duration, sig.Predicted,
		sig.Contract.Label, sig.Ask,
		nullable(d.Snapshot.Actual.C, d.Snapshot.Actual.OK),
		nullable(d.Snapshot.Forecast.C, d.Snapshot.Forecast.OK),
		nullable(d.Snapshot.Divergence.C, d.Snapshot.Divergence.OK),
		string(d.Snapshot.Band), d.Snapshot.AvailableCount,
		d.Guard.Locked, string(d.Guard.Reason), d.Guard.RiskyCount, d.GuardRecompute,
		d.Order.Submitted, d.Order.OrderID, d.Order.Status, d.Order.Err, string(sources),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return tx.Commit()
}

// Recent returns the latest decisions for a market, newest first.
func (s *Store) Recent(ctx context.Context, market string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, run_id, market, ts, day, signal, reason, detail,
		phase, resonance, duration, contract, ask, guard_locked, guard_reason, order_id, order_error
		FROM decisions WHERE market = ? ORDER BY ts DESC, rowid DESC LIMIT ?`, market, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var ts int64
		var detail, contract, guardReason, orderID, orderErr sql.NullString
		var ask sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Market, &ts, &r.Day, &r.Signal, &r.Reason, &detail,
			&r.Phase, &r.Resonance, &r.Duration, &contract, &ask, &r.GuardLocked, &guardReason, &orderID, &orderErr); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Time = time.UnixMilli(ts).UTC()
		r.Detail, r.Contract, r.GuardReason = detail.String, contract.String, guardReason.String
		r.OrderID, r.OrderError = orderID.String, orderErr.String
		r.Ask = ask.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summaries returns the closed days of a market, newest first.
func (s *Store) Summaries(ctx context.Context, market string) ([]DaySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, day, fired, fired_type, day_max FROM day_summaries WHERE market = ? AND run_id = ? ORDER BY day DESC`,
		market, s.runID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()
	var out []DaySummary
	for rows.Next() {
		var ds DaySummary
		var firedType sql.NullString
		var dayMax sql.NullFloat64
		if err := rows.Scan(&ds.Market, &ds.Day, &ds.Fired, &firedType, &dayMax); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		ds.FiredType = firedType.String
		if dayMax.Valid {
			v := dayMax.Float64
			ds.DayMax = &v
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func sourceValues(d engine.Decision) map[string]*float64 {
	out := make(map[string]*float64, len(d.Snapshot.Sources))
	for id, smp := range d.Snapshot.Sources {
		if smp.Available && smp.Actual.OK {
			v := smp.Actual.C
			out[string(id)] = &v
		} else {
			out[string(id)] = nil
		}
	}
	return out
}

func nullable(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

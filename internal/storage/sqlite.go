// Package storage is the append-only event sink: every fill, close, equity
// sample and guard rejection lands in SQLite for later analysis.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TradeEvent is one fill or close.
type TradeEvent struct {
	Time     time.Time
	Symbol   string
	Side     string
	Qty      float64
	Price    float64
	Leverage int
	Fee      float64
	PnL      float64
	Note     string // OPEN, CLOSE_SL, CLOSE_TP1_HALF, CLOSE_TP2, CLOSE_ALL, DCA_ADD
	Regime   string
}

// EquitySample is one equity observation.
type EquitySample struct {
	Time   time.Time
	Equity float64
	PnL    float64
}

// DecisionEvent records a guard rejection for diagnostics.
type DecisionEvent struct {
	Time   time.Time
	Symbol string
	Side   string
	Reason string
}

// CloseStats aggregates closed-trade performance for one symbol and layer.
type CloseStats struct {
	Symbol string
	Layer  string
	N      int
	PnL    float64
	Gains  float64
	Loss   float64
}

// ProfitFactor returns gains over absolute losses, or a large sentinel when
// there are no losses.
func (s CloseStats) ProfitFactor() float64 {
	if s.Loss < 0 {
		return s.Gains / -s.Loss
	}
	return 999.0
}

// Expectancy returns mean pnl per closed trade.
func (s CloseStats) Expectancy() float64 {
	if s.N == 0 {
		return 0
	}
	return s.PnL / float64(s.N)
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT, symbol TEXT, side TEXT, qty REAL, price REAL,
			lev INTEGER, fee REAL, pnl REAL, note TEXT, regime TEXT)`,
		`CREATE TABLE IF NOT EXISTS equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT, equity REAL, pnl REAL)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT, symbol TEXT, side TEXT, reason TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// InsertTrade appends a trade event.
func (s *Store) InsertTrade(ev TradeEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (ts,symbol,side,qty,price,lev,fee,pnl,note,regime) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.Time.UTC().Format(time.RFC3339), ev.Symbol, ev.Side, ev.Qty, ev.Price,
		ev.Leverage, ev.Fee, ev.PnL, ev.Note, ev.Regime,
	)
	if err != nil {
		return fmt.Errorf("storage: insert trade: %w", err)
	}
	return nil
}

// InsertEquity appends an equity sample.
func (s *Store) InsertEquity(sample EquitySample) error {
	_, err := s.db.Exec(
		`INSERT INTO equity (ts,equity,pnl) VALUES (?,?,?)`,
		sample.Time.UTC().Format(time.RFC3339), sample.Equity, sample.PnL,
	)
	if err != nil {
		return fmt.Errorf("storage: insert equity: %w", err)
	}
	return nil
}

// InsertDecision appends a guard rejection.
func (s *Store) InsertDecision(ev DecisionEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO decisions (ts,symbol,side,reason) VALUES (?,?,?,?)`,
		ev.Time.UTC().Format(time.RFC3339), ev.Symbol, ev.Side, ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// RealizedPnLSince sums closed-trade pnl recorded at or after cutoff.
func (s *Store) RealizedPnLSince(cutoff time.Time) (float64, error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE note LIKE 'CLOSE%' AND ts >= ?`,
		cutoff.UTC().Format(time.RFC3339),
	)
	var pnl float64
	if err := row.Scan(&pnl); err != nil {
		return 0, fmt.Errorf("storage: realized pnl: %w", err)
	}
	return pnl, nil
}

// RecentCloses aggregates the most recent closed trades per symbol/layer,
// where layer is derived from the recorded regime: trending regimes map to
// "trend", range/chop to "range", anything else is skipped.
func (s *Store) RecentCloses(limit int) ([]CloseStats, error) {
	if limit <= 0 {
		limit = 600
	}
	rows, err := s.db.Query(
		`SELECT symbol, regime, pnl FROM (
			SELECT id, symbol, regime, pnl FROM trades
			WHERE note LIKE 'CLOSE%' ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent closes: %w", err)
	}
	defer rows.Close()

	agg := make(map[[2]string]*CloseStats)
	for rows.Next() {
		var symbol, regime string
		var pnl float64
		if err := rows.Scan(&symbol, &regime, &pnl); err != nil {
			return nil, fmt.Errorf("storage: scan close: %w", err)
		}
		layer := layerForRegime(regime)
		if symbol == "" || layer == "" {
			continue
		}
		key := [2]string{symbol, layer}
		st, ok := agg[key]
		if !ok {
			st = &CloseStats{Symbol: symbol, Layer: layer}
			agg[key] = st
		}
		st.N++
		st.PnL += pnl
		if pnl >= 0 {
			st.Gains += pnl
		} else {
			st.Loss += pnl
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: recent closes: %w", err)
	}
	out := make([]CloseStats, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	return out, nil
}

func layerForRegime(regime string) string {
	regime = strings.ToLower(regime)
	if regime == "" {
		return ""
	}
	if strings.Contains(regime, "trend") {
		return "trend"
	}
	if regime == "range" || regime == "chop" {
		return "range"
	}
	return ""
}

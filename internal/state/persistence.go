// Package state persists the account snapshot that must survive restarts:
// killswitch, per-symbol cooldown timestamps and open positions.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quantfleet/perp-engine/internal/ledger"
)

// LotRecord is the persisted form of one open lot.
type LotRecord struct {
	Side           string  `json:"side"`
	Qty            float64 `json:"qty"`
	Entry          float64 `json:"entry"`
	Leverage       int     `json:"lev"`
	StopLoss       float64 `json:"sl"`
	TakeProfit1    float64 `json:"tp1"`
	TakeProfit2    float64 `json:"tp2"`
	RealizedPnL    float64 `json:"realized_pnl"`
	TrailingAnchor float64 `json:"trailing_anchor"`
	EntryStrength  float64 `json:"entry_adx"`
	Leg            int     `json:"leg"`
}

// Snapshot is the versionless persisted document.
type Snapshot struct {
	Killswitch bool                   `json:"killswitch"`
	LastEntry  map[string]float64     `json:"last_entry_ts_by_symbol"`
	Positions  map[string][]LotRecord `json:"positions"`
}

// Persister saves and restores snapshots.
type Persister interface {
	Save(snap Snapshot) error
	Load() (Snapshot, error)
}

// FilePersister writes snapshots atomically: temp file, rename, with the
// previous snapshot kept as a backup.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes the snapshot. The previous file survives as <path>.bak so a
// crash mid-write can never destroy the last good snapshot.
func (p *FilePersister) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}
	if _, err := os.Stat(p.path); err == nil {
		if prev, err := os.ReadFile(p.path); err == nil {
			_ = os.WriteFile(p.path+".bak", prev, 0644)
		}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("state: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("state: rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot, tolerating legacy and malformed shapes: a
// top-level array yields an empty snapshot, an array where the positions map
// should be yields no positions, and individually undecodable lots are
// skipped. A missing file is a clean start, not an error.
func (p *FilePersister) Load() (Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), fmt.Errorf("state: read snapshot: %w", err)
	}
	return decodeSnapshot(data), nil
}

func emptySnapshot() Snapshot {
	return Snapshot{
		LastEntry: make(map[string]float64),
		Positions: make(map[string][]LotRecord),
	}
}

func decodeSnapshot(data []byte) Snapshot {
	snap := emptySnapshot()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Legacy shape or corruption at the top level. Start clean.
		return snap
	}

	if v, ok := raw["killswitch"]; ok {
		var ks bool
		if json.Unmarshal(v, &ks) == nil {
			snap.Killswitch = ks
		}
	}

	if v, ok := raw["last_entry_ts_by_symbol"]; ok {
		var entries map[string]float64
		if json.Unmarshal(v, &entries) == nil && entries != nil {
			snap.LastEntry = entries
		}
	}

	if v, ok := raw["positions"]; ok {
		var positions map[string]json.RawMessage
		if json.Unmarshal(v, &positions) == nil {
			for sym, lotsRaw := range positions {
				var lotMsgs []json.RawMessage
				if json.Unmarshal(lotsRaw, &lotMsgs) != nil {
					continue
				}
				var lots []LotRecord
				for _, m := range lotMsgs {
					var rec LotRecord
					if json.Unmarshal(m, &rec) != nil {
						continue
					}
					lots = append(lots, rec)
				}
				if len(lots) > 0 {
					snap.Positions[sym] = lots
				}
			}
		}
	}
	return snap
}

// FromLedger builds a snapshot of the ledger's durable state.
func FromLedger(l *ledger.Ledger) Snapshot {
	snap := emptySnapshot()
	snap.Killswitch = l.Killswitch()
	for sym, ts := range l.LastEntries() {
		snap.LastEntry[sym] = float64(ts.Unix())
	}
	for sym, lots := range l.Book() {
		recs := make([]LotRecord, 0, len(lots))
		for _, lot := range lots {
			recs = append(recs, LotRecord{
				Side:           string(lot.Side),
				Qty:            lot.Qty,
				Entry:          lot.Entry,
				Leverage:       lot.Leverage,
				StopLoss:       lot.StopLoss,
				TakeProfit1:    lot.TakeProfit1,
				TakeProfit2:    lot.TakeProfit2,
				RealizedPnL:    lot.RealizedPnL,
				TrailingAnchor: lot.TrailingAnchor,
				EntryStrength:  lot.EntryStrength,
				Leg:            lot.Leg,
			})
		}
		snap.Positions[sym] = recs
	}
	return snap
}

// ApplyToLedger restores a snapshot into the ledger. Lots with an unknown
// side default their trailing anchor to the entry price when the persisted
// anchor is missing.
func ApplyToLedger(snap Snapshot, l *ledger.Ledger) {
	positions := make(map[string][]ledger.Lot, len(snap.Positions))
	for sym, recs := range snap.Positions {
		lots := make([]ledger.Lot, 0, len(recs))
		for _, rec := range recs {
			side := ledger.Side(rec.Side)
			if side != ledger.SideLong && side != ledger.SideShort {
				continue
			}
			anchor := rec.TrailingAnchor
			if anchor <= 0 {
				anchor = rec.Entry
			}
			leg := rec.Leg
			if leg < 1 {
				leg = 1
			}
			lots = append(lots, ledger.Lot{
				Symbol:         sym,
				Side:           side,
				Qty:            rec.Qty,
				Entry:          rec.Entry,
				Leverage:       rec.Leverage,
				StopLoss:       rec.StopLoss,
				TakeProfit1:    rec.TakeProfit1,
				TakeProfit2:    rec.TakeProfit2,
				RealizedPnL:    rec.RealizedPnL,
				TrailingAnchor: anchor,
				EntryStrength:  rec.EntryStrength,
				Leg:            leg,
			})
		}
		if len(lots) > 0 {
			positions[sym] = lots
		}
	}
	lastEntry := make(map[string]time.Time, len(snap.LastEntry))
	for sym, ts := range snap.LastEntry {
		lastEntry[sym] = time.Unix(int64(ts), 0).UTC()
	}
	l.Restore(positions, snap.Killswitch, lastEntry)
}

package ledger

import (
	"fmt"
	"math"
	"time"
)

// Side represents the direction of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideFlat  Side = "flat"
)

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Direction returns +1 for long, -1 for short, 0 otherwise
func (s Side) Direction() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Lot is one open fill increment of a position. Lots are created only by a
// successful exchange fill and removed the instant their quantity reaches zero.
type Lot struct {
	Symbol         string
	Side           Side
	Qty            float64
	Entry          float64
	Leverage       int
	StopLoss       float64
	TakeProfit1    float64
	TakeProfit2    float64
	RealizedPnL    float64
	TrailingAnchor float64
	EntryStrength  float64 // regime strength at entry (ADX)
	Leg            int     // 1-based sequence of adds for this side/symbol
	OpenedAt       time.Time
}

// Ledger is the single source of truth for open exposure and the account
// state that outlives a tick. It is mutated only by the control loop; it is
// not safe for concurrent use.
type Ledger struct {
	equity     float64
	equityPeak float64
	killswitch bool
	noHedge    bool
	lastEntry  map[string]time.Time
	positions  map[string][]*Lot
}

// New creates a ledger with the given starting equity. When noHedge is set,
// Open rejects mixed sides per symbol as a structural invariant violation.
func New(initialEquity float64, noHedge bool) *Ledger {
	return &Ledger{
		equity:     initialEquity,
		equityPeak: initialEquity,
		noHedge:    noHedge,
		lastEntry:  make(map[string]time.Time),
		positions:  make(map[string][]*Lot),
	}
}

// Equity returns the authoritative running balance.
func (l *Ledger) Equity() float64 { return l.equity }

// SetEquity overwrites the running balance, used when bootstrapping from a
// live exchange balance.
func (l *Ledger) SetEquity(v float64) {
	l.equity = v
	if v > l.equityPeak {
		l.equityPeak = v
	}
}

// RatchetPeak raises the equity high-water mark if equity exceeds it and
// returns the current peak. The peak never decreases.
func (l *Ledger) RatchetPeak() float64 {
	if l.equity > l.equityPeak {
		l.equityPeak = l.equity
	}
	return l.equityPeak
}

// EquityPeak returns the running high-water mark.
func (l *Ledger) EquityPeak() float64 { return l.equityPeak }

// Killswitch reports whether the global entry block is active.
func (l *Ledger) Killswitch() bool { return l.killswitch }

// SetKillswitch sets the global entry block.
func (l *Ledger) SetKillswitch(on bool) { l.killswitch = on }

// ToggleKillswitch flips the global entry block and returns the new value.
func (l *Ledger) ToggleKillswitch() bool {
	l.killswitch = !l.killswitch
	return l.killswitch
}

// LastEntry returns the time of the last entry for a symbol.
func (l *Ledger) LastEntry(symbol string) (time.Time, bool) {
	t, ok := l.lastEntry[symbol]
	return t, ok
}

// SetLastEntry records the entry time used for cooldown tracking.
func (l *Ledger) SetLastEntry(symbol string, t time.Time) {
	l.lastEntry[symbol] = t
}

// LastEntries returns a copy of the cooldown tracking map.
func (l *Ledger) LastEntries() map[string]time.Time {
	out := make(map[string]time.Time, len(l.lastEntry))
	for k, v := range l.lastEntry {
		out[k] = v
	}
	return out
}

// Open appends a lot for the symbol and deducts the entry fee from equity.
// Business limits (capacity, caps, correlation) must already have been
// checked by the admission guards; Open validates only structural
// invariants. A hedge under the no-hedge policy is a programming error and
// is returned as such rather than silently accepted.
func (l *Ledger) Open(symbol string, side Side, qty, price float64, leverage int, sl, tp1, tp2, fee, entryStrength float64, leg int) (*Lot, error) {
	if side != SideLong && side != SideShort {
		return nil, fmt.Errorf("ledger: invalid side %q for %s", side, symbol)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: non-positive qty %.8f for %s", qty, symbol)
	}
	if price <= 0 {
		return nil, fmt.Errorf("ledger: non-positive price %.8f for %s", price, symbol)
	}
	if leverage < 1 {
		leverage = 1
	}
	if l.noHedge {
		for _, existing := range l.positions[symbol] {
			if existing.Side != side {
				return nil, fmt.Errorf("ledger: hedge violation on %s: existing %s lot, new %s", symbol, existing.Side, side)
			}
		}
	}
	lot := &Lot{
		Symbol:         symbol,
		Side:           side,
		Qty:            qty,
		Entry:          price,
		Leverage:       leverage,
		StopLoss:       sl,
		TakeProfit1:    tp1,
		TakeProfit2:    tp2,
		TrailingAnchor: price,
		EntryStrength:  entryStrength,
		Leg:            leg,
		OpenedAt:       time.Now().UTC(),
	}
	l.positions[symbol] = append(l.positions[symbol], lot)
	l.equity -= fee
	return lot, nil
}

// Close realizes pnl for qty of the lot at index idx. Passing qty <= 0
// closes the full lot. pnl = (exit-entry)*qty*direction - fee and is added
// to equity. A fully closed lot is removed; a partial close keeps a
// reduced-qty copy with its trailing anchor reset to the exit price.
func (l *Ledger) Close(symbol string, idx int, exitPrice, qty, fee float64) (float64, error) {
	lots := l.positions[symbol]
	if idx < 0 || idx >= len(lots) {
		return 0, fmt.Errorf("ledger: lot index %d out of range for %s (%d open)", idx, symbol, len(lots))
	}
	lot := lots[idx]
	if qty <= 0 || qty > lot.Qty {
		qty = lot.Qty
	}
	pnl := (exitPrice-lot.Entry)*qty*lot.Side.Direction() - fee
	l.equity += pnl

	remaining := lot.Qty - qty
	if remaining <= 1e-12 {
		l.positions[symbol] = append(lots[:idx], lots[idx+1:]...)
		if len(l.positions[symbol]) == 0 {
			delete(l.positions, symbol)
		}
	} else {
		lot.Qty = remaining
		lot.RealizedPnL += pnl
		lot.TrailingAnchor = exitPrice
	}
	return pnl, nil
}

// NetExposure returns the net directional side and absolute quantity for a
// symbol. Flat symbols report (SideFlat, 0).
func (l *Ledger) NetExposure(symbol string) (Side, float64) {
	net := 0.0
	for _, lot := range l.positions[symbol] {
		net += lot.Qty * lot.Side.Direction()
	}
	if net > 0 {
		return SideLong, net
	}
	if net < 0 {
		return SideShort, -net
	}
	return SideFlat, 0
}

// Lots returns the live lot slice for a symbol. Callers own the
// single-threaded discipline; guards should use Book instead.
func (l *Ledger) Lots(symbol string) []*Lot {
	return l.positions[symbol]
}

// Book returns a deep copy of all open lots, keyed by symbol. Safe to hand
// to pure guard functions.
func (l *Ledger) Book() map[string][]Lot {
	out := make(map[string][]Lot, len(l.positions))
	for sym, lots := range l.positions {
		cp := make([]Lot, len(lots))
		for i, lot := range lots {
			cp[i] = *lot
		}
		out[sym] = cp
	}
	return out
}

// OpenCount returns the total number of open lots across all symbols.
func (l *Ledger) OpenCount() int {
	n := 0
	for _, lots := range l.positions {
		n += len(lots)
	}
	return n
}

// CountBySymbol returns the open lot count per symbol.
func (l *Ledger) CountBySymbol() map[string]int {
	out := make(map[string]int, len(l.positions))
	for sym, lots := range l.positions {
		out[sym] = len(lots)
	}
	return out
}

// Symbols returns the symbols that currently have open lots.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	return out
}

// SameSideCount returns how many open lots for the symbol share the side.
func (l *Ledger) SameSideCount(symbol string, side Side) int {
	n := 0
	for _, lot := range l.positions[symbol] {
		if lot.Side == side {
			n++
		}
	}
	return n
}

// Restore replaces positions, killswitch and cooldown state, used when
// applying a persisted snapshot at startup. Lots with non-positive qty are
// dropped rather than restored.
func (l *Ledger) Restore(positions map[string][]Lot, killswitch bool, lastEntry map[string]time.Time) {
	l.killswitch = killswitch
	l.lastEntry = make(map[string]time.Time, len(lastEntry))
	for k, v := range lastEntry {
		l.lastEntry[k] = v
	}
	l.positions = make(map[string][]*Lot, len(positions))
	for sym, lots := range positions {
		var arr []*Lot
		for i := range lots {
			if lots[i].Qty <= 0 || math.IsNaN(lots[i].Qty) {
				continue
			}
			cp := lots[i]
			cp.Symbol = sym
			arr = append(arr, &cp)
		}
		if len(arr) > 0 {
			l.positions[sym] = arr
		}
	}
}

package risk

import (
	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

// Trailing mode selects the stop tracking formula.
const (
	TrailATR     = "atr"
	TrailEMA     = "ema"
	TrailPercent = "percent"
)

// EMA key names accepted by the ema trailing mode.
const (
	EMAFastKey = "ema_fast"
	EMASlowKey = "ema_slow"
)

// TrailingParams configure the trailing stop tracker.
type TrailingParams struct {
	Enabled    bool
	Mode       string
	ATRK       float64
	EMAKey     string
	EMAK       float64
	Percent    float64 // percent of price, 0..100
	MinStepATR float64
}

// ComputeTrailingStop proposes an updated stop for an open lot. The proposal
// never loosens the current stop, and a move smaller than MinStepATR*ATR is
// suppressed to avoid churning protection orders on noise. The anchor is
// part of the contract for callers that track the best favorable price, even
// though the current formulas derive the proposal from price and indicators.
func ComputeTrailingStop(side ledger.Side, price, lastSL, anchor float64, row marketdata.Row, p TrailingParams) float64 {
	_ = anchor
	if side != ledger.SideLong && side != ledger.SideShort {
		return lastSL
	}
	atr := row.ATR
	var proposed float64

	switch p.Mode {
	case TrailPercent:
		pct := p.Percent / 100.0
		if side == ledger.SideLong {
			proposed = price * (1 - pct)
		} else {
			proposed = price * (1 + pct)
		}
	case TrailEMA:
		ema := row.EMAFast
		if p.EMAKey == EMASlowKey {
			ema = row.EMASlow
		}
		if ema <= 0 {
			return lastSL
		}
		if atr > 0 {
			if side == ledger.SideLong {
				proposed = ema - p.EMAK*atr
			} else {
				proposed = ema + p.EMAK*atr
			}
		} else {
			proposed = ema
		}
	default: // atr
		if atr <= 0 {
			return lastSL
		}
		if side == ledger.SideLong {
			proposed = price - p.ATRK*atr
		} else {
			proposed = price + p.ATRK*atr
		}
	}

	// Never loosen the stop.
	if side == ledger.SideLong {
		if proposed < lastSL {
			proposed = lastSL
		}
	} else {
		if proposed > lastSL {
			proposed = lastSL
		}
	}

	// Minimum step filter, scaled by ATR when available.
	if atr > 0 {
		step := p.MinStepATR * atr
		if side == ledger.SideLong {
			if proposed <= lastSL+step {
				return lastSL
			}
		} else {
			if proposed >= lastSL-step {
				return lastSL
			}
		}
	}
	return proposed
}

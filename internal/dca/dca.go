// Package dca decides whether an open position may scale in with another
// leg in the direction of the trend.
package dca

import (
	"math"

	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

// Config are the scale-in parameters.
type Config struct {
	Enabled        bool
	MinADXIncrease float64
	EMAPullbackATR float64
	PctScalePerAdd float64
}

// ShouldAdd reports whether a new leg may be added to an existing position,
// and the sizing scale to apply when it may. Pure function; the caller
// records state changes after it actually opens the leg.
//
// A leg is allowed only when all hold:
//   - scale-in is enabled and per-symbol capacity remains,
//   - trend strength (ADX) improved by at least MinADXIncrease since the
//     most recent same-side leg,
//   - price pulled back to within EMAPullbackATR*ATR of the fast EMA.
func ShouldAdd(side ledger.Side, row marketdata.Row, lots []ledger.Lot, maxPerSymbol int, cfg Config) (bool, float64) {
	if !cfg.Enabled {
		return false, 0
	}
	if len(lots) >= maxPerSymbol {
		return false, 0
	}
	lastLegADX := 0.0
	for i := len(lots) - 1; i >= 0; i-- {
		if lots[i].Side == side {
			lastLegADX = lots[i].EntryStrength
			break
		}
	}
	if row.ADX < lastLegADX+cfg.MinADXIncrease {
		return false, 0
	}
	tol := cfg.EMAPullbackATR * math.Max(row.ATR, 1e-9)
	if row.Close < row.EMAFast-tol || row.Close > row.EMAFast+tol {
		return false, 0
	}
	return true, cfg.PctScalePerAdd
}

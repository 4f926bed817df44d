package engine

import (
	"math"

	"github.com/quantfleet/perp-engine/internal/config"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

// chooseLeverageAndPct maps the market regime and trend strength to a
// leverage and a margin fraction. Chop is traded small and unlevered, ranges
// moderately, trends aggressively, with ADX/BB-width escalation on top.
func chooseLeverageAndPct(row marketdata.Row, regime string, lev config.LeverageConfig, sizes config.OrderSizesConfig) (int, float64) {
	minLev := lev.Min
	if minLev < 1 {
		minLev = 1
	}
	maxLev := lev.Max
	if maxLev < minLev {
		maxLev = minLev
	}
	basePct := sizes.DefaultPct

	var chosen int
	var pct float64
	switch regime {
	case "chop":
		chosen = maxInt(minLev, 1)
		pct = clamp(basePct*0.5, 0.10, 0.20)
	case "range":
		chosen = maxInt(2, minInt(4, maxLev))
		pct = clamp(basePct*0.75, 0.15, 0.30)
	default:
		chosen = maxInt(5, minInt(8, maxLev))
		pct = clamp(basePct, 0.25, 0.40)
	}

	if row.ADX >= 30 && row.BBWidth >= 12 {
		chosen = minInt(maxLev, maxInt(chosen, 10))
		pct = math.Max(pct, 0.60)
	}
	if row.ADX >= 40 && row.BBWidth >= 16 {
		chosen = minInt(maxLev, maxInt(chosen, 12))
		pct = math.Max(pct, 0.80)
	}

	pct = clamp(pct, sizes.MinPct, sizes.MaxPct)
	chosen = maxInt(minLev, minInt(maxLev, chosen))
	return chosen, pct
}

// riskNormalizedMargin returns the USD margin for an entry sized so that
// hitting the stop loses about RiskPct of equity, capped at pct of equity.
// Without a usable stop distance it falls back to the plain pct sizing.
func riskNormalizedMargin(price, sl, equity, pct float64, lev int, atr, riskPct float64) float64 {
	if lev < 1 {
		lev = 1
	}
	marginCap := math.Max(0, pct*equity)
	stopDist := math.Abs(price - sl)
	if stopDist <= 0 || atr <= 0 {
		return marginCap
	}
	riskUSD := math.Max(0, riskPct*equity)
	qtyRisk := riskUSD / stopDist
	marginNeeded := qtyRisk * price / float64(lev)
	return math.Min(marginNeeded, marginCap)
}

// applyTradeCaps bounds the entry margin by the per-trade margin and
// notional caps. Zero caps are disabled.
func applyTradeCaps(usd float64, lev int, sizes config.OrderSizesConfig) float64 {
	if lev < 1 {
		lev = 1
	}
	if sizes.MaxMarginPerTrade > 0 {
		usd = math.Min(usd, sizes.MaxMarginPerTrade)
	}
	if sizes.MaxNotionalPerTrade > 0 {
		usd = math.Min(usd, sizes.MaxNotionalPerTrade/float64(lev))
	}
	return usd
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

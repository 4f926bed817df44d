package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfleet/perp-engine/internal/config"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

func TestChooseLeverageAndPct(t *testing.T) {
	lev := config.LeverageConfig{Min: 1, Default: 5, Max: 15}
	sizes := config.OrderSizesConfig{DefaultPct: 0.30, MinPct: 0.10, MaxPct: 1.00}

	tests := []struct {
		name    string
		row     marketdata.Row
		regime  string
		wantLev int
		wantPct float64
	}{
		{"chop trades small", marketdata.Row{}, "chop", 1, 0.15},
		{"range moderate", marketdata.Row{}, "range", 4, 0.225},
		{"trend aggressive", marketdata.Row{}, "trend", 8, 0.30},
		{"strong trend escalates", marketdata.Row{ADX: 32, BBWidth: 13}, "trend", 10, 0.60},
		{"very strong trend", marketdata.Row{ADX: 45, BBWidth: 20}, "trend", 12, 0.80},
		{"escalation respects max", marketdata.Row{ADX: 45, BBWidth: 20}, "chop", 12, 0.80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLev, gotPct := chooseLeverageAndPct(tt.row, tt.regime, lev, sizes)
			assert.Equal(t, tt.wantLev, gotLev)
			assert.InDelta(t, tt.wantPct, gotPct, 1e-9)
		})
	}
}

func TestChooseLeverageCappedByMax(t *testing.T) {
	lev := config.LeverageConfig{Min: 1, Default: 5, Max: 6}
	sizes := config.OrderSizesConfig{DefaultPct: 0.30, MinPct: 0.10, MaxPct: 1.00}

	gotLev, _ := chooseLeverageAndPct(marketdata.Row{ADX: 45, BBWidth: 20}, "trend", lev, sizes)
	assert.Equal(t, 6, gotLev)
}

func TestRiskNormalizedMargin(t *testing.T) {
	t.Run("risk path caps loss at the stop", func(t *testing.T) {
		// 0.4% of 1000 = 4 USD risk over a 4 USD stop distance: qty 1,
		// margin = 1 * 100 / 5 = 20.
		usd := riskNormalizedMargin(100, 96, 1000, 0.30, 5, 2, 0.004)
		assert.InDelta(t, 20.0, usd, 1e-9)
	})

	t.Run("margin cap binds when stop is tight", func(t *testing.T) {
		// Tiny stop distance wants huge qty; the pct cap holds it.
		usd := riskNormalizedMargin(100, 99.99, 1000, 0.30, 5, 2, 0.004)
		assert.InDelta(t, 300.0, usd, 1e-9)
	})

	t.Run("no stop falls back to pct sizing", func(t *testing.T) {
		usd := riskNormalizedMargin(100, 0, 1000, 0.30, 5, 0, 0.004)
		assert.InDelta(t, 300.0, usd, 1e-9)
	})
}

func TestApplyTradeCaps(t *testing.T) {
	sizes := config.OrderSizesConfig{MaxMarginPerTrade: 50, MaxNotionalPerTrade: 100}
	// Margin cap binds first, then the notional cap (100/5 = 20 margin).
	assert.InDelta(t, 20.0, applyTradeCaps(80, 5, sizes), 1e-9)

	// Zero caps leave the margin untouched.
	assert.InDelta(t, 80.0, applyTradeCaps(80, 5, config.OrderSizesConfig{}), 1e-9)
}

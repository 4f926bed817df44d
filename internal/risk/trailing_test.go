package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

func atrParams() TrailingParams {
	return TrailingParams{Enabled: true, Mode: TrailATR, ATRK: 2.0, MinStepATR: 0.5}
}

func TestTrailingATRLong(t *testing.T) {
	row := marketdata.Row{ATR: 2.0}
	// price 110, k=2 -> proposed 106, well above lastSL 95 and past the min step
	sl := ComputeTrailingStop(ledger.SideLong, 110, 95, 110, row, atrParams())
	assert.InDelta(t, 106.0, sl, 1e-12)
}

func TestTrailingATRShort(t *testing.T) {
	row := marketdata.Row{ATR: 2.0}
	sl := ComputeTrailingStop(ledger.SideShort, 90, 105, 90, row, atrParams())
	assert.InDelta(t, 94.0, sl, 1e-12)
}

func TestTrailingNeverLoosens(t *testing.T) {
	row := marketdata.Row{ATR: 2.0}
	// proposed 106 is below the tighter existing stop 108
	sl := ComputeTrailingStop(ledger.SideLong, 110, 108, 110, row, atrParams())
	assert.InDelta(t, 108.0, sl, 1e-12)

	// short: proposed 94 is above the tighter existing stop 92
	sl = ComputeTrailingStop(ledger.SideShort, 90, 92, 90, row, atrParams())
	assert.InDelta(t, 92.0, sl, 1e-12)
}

func TestTrailingMinStepSuppressesSmallMoves(t *testing.T) {
	row := marketdata.Row{ATR: 2.0}
	// proposed 106 vs lastSL 105.5: move of 0.5 < min step 1.0, stay put
	sl := ComputeTrailingStop(ledger.SideLong, 110, 105.5, 110, row, atrParams())
	assert.InDelta(t, 105.5, sl, 1e-12)
}

func TestTrailingATRZeroATRNoMove(t *testing.T) {
	sl := ComputeTrailingStop(ledger.SideLong, 110, 95, 110, marketdata.Row{}, atrParams())
	assert.InDelta(t, 95.0, sl, 1e-12)
}

func TestTrailingEMAMode(t *testing.T) {
	p := TrailingParams{Enabled: true, Mode: TrailEMA, EMAKey: EMAFastKey, EMAK: 1.0, MinStepATR: 0}
	row := marketdata.Row{ATR: 1.0, EMAFast: 104}
	sl := ComputeTrailingStop(ledger.SideLong, 110, 95, 110, row, p)
	assert.InDelta(t, 103.0, sl, 1e-12, "ema - k*atr")

	p.EMAKey = EMASlowKey
	row.EMASlow = 102
	sl = ComputeTrailingStop(ledger.SideLong, 110, 95, 110, row, p)
	assert.InDelta(t, 101.0, sl, 1e-12)

	// missing EMA leaves the stop alone
	sl = ComputeTrailingStop(ledger.SideLong, 110, 95, 110, marketdata.Row{ATR: 1.0}, p)
	assert.InDelta(t, 95.0, sl, 1e-12)
}

func TestTrailingPercentMode(t *testing.T) {
	p := TrailingParams{Enabled: true, Mode: TrailPercent, Percent: 1.0}
	sl := ComputeTrailingStop(ledger.SideLong, 200, 150, 200, marketdata.Row{}, p)
	assert.InDelta(t, 198.0, sl, 1e-12, "1% below price")

	sl = ComputeTrailingStop(ledger.SideShort, 200, 250, 200, marketdata.Row{}, p)
	assert.InDelta(t, 202.0, sl, 1e-12, "1% above price")
}

func TestTrailingFlatSideNoMove(t *testing.T) {
	sl := ComputeTrailingStop(ledger.SideFlat, 110, 95, 110, marketdata.Row{ATR: 2}, atrParams())
	assert.InDelta(t, 95.0, sl, 1e-12)
}

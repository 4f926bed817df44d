package dca

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
)

func cfg() Config {
	return Config{Enabled: true, MinADXIncrease: 2.0, EMAPullbackATR: 0.5, PctScalePerAdd: 0.5}
}

func longLot(adx float64) ledger.Lot {
	return ledger.Lot{Side: ledger.SideLong, Qty: 1, Entry: 100, EntryStrength: adx}
}

func TestShouldAddHappyPath(t *testing.T) {
	lots := []ledger.Lot{longLot(20)}
	row := marketdata.Row{Close: 100.2, ATR: 1.0, ADX: 23, EMAFast: 100}
	ok, scale := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.True(t, ok)
	assert.InDelta(t, 0.5, scale, 1e-12)
}

func TestShouldAddDisabled(t *testing.T) {
	c := cfg()
	c.Enabled = false
	ok, _ := ShouldAdd(ledger.SideLong, marketdata.Row{ADX: 50, EMAFast: 100, Close: 100, ATR: 1}, []ledger.Lot{longLot(10)}, 4, c)
	assert.False(t, ok)
}

func TestShouldAddAtPerSymbolCapacity(t *testing.T) {
	lots := []ledger.Lot{longLot(10), longLot(12), longLot(14), longLot(16)}
	row := marketdata.Row{Close: 100, ATR: 1, ADX: 30, EMAFast: 100}
	ok, _ := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.False(t, ok, "four lots against a cap of four leaves no room")
}

func TestShouldAddRequiresADXImprovement(t *testing.T) {
	lots := []ledger.Lot{longLot(25)}
	row := marketdata.Row{Close: 100, ATR: 1, ADX: 26, EMAFast: 100}
	ok, _ := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.False(t, ok, "ADX 26 < 25+2")

	row.ADX = 27
	ok, _ = ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.True(t, ok, "ADX 27 meets 25+2")
}

func TestShouldAddUsesLatestSameSideLeg(t *testing.T) {
	lots := []ledger.Lot{longLot(10), longLot(24)}
	row := marketdata.Row{Close: 100, ATR: 1, ADX: 25, EMAFast: 100}
	ok, _ := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.False(t, ok, "compared against the newest leg at 24, not the first at 10")
}

func TestShouldAddRequiresEMAPullback(t *testing.T) {
	lots := []ledger.Lot{longLot(20)}
	row := marketdata.Row{Close: 102, ATR: 1.0, ADX: 30, EMAFast: 100}
	ok, _ := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.False(t, ok, "close 102 outside 100 +/- 0.5")

	row.Close = 99.6
	ok, _ = ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.True(t, ok, "close 99.6 inside the band")
}

func TestShouldAddFreshSideIgnoresOppositeLegs(t *testing.T) {
	lots := []ledger.Lot{{Side: ledger.SideShort, Qty: 1, Entry: 100, EntryStrength: 40}}
	row := marketdata.Row{Close: 100, ATR: 1, ADX: 5, EMAFast: 100}
	ok, _ := ShouldAdd(ledger.SideLong, row, lots, 4, cfg())
	assert.True(t, ok, "no prior long leg, baseline ADX is zero")
}

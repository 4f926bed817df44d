package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCloseEquityAccounting(t *testing.T) {
	l := New(1000.0, true)

	_, err := l.Open("BTCUSDT", SideLong, 1.0, 100.0, 5, 95.0, 105.0, 110.0, 0.5, 25.0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 999.5, l.Equity(), 1e-9, "entry fee deducted from equity")
	assert.Equal(t, 1, l.OpenCount())

	pnl, err := l.Close("BTCUSDT", 0, 110.0, 0, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 9.5, pnl, 1e-9, "pnl = (110-100)*1 - 0.5")
	assert.InDelta(t, 1009.0, l.Equity(), 1e-9)
	assert.Equal(t, 0, l.OpenCount())
	assert.Empty(t, l.Symbols(), "symbol removed once flat")
}

func TestCloseShortDirection(t *testing.T) {
	l := New(1000.0, true)
	_, err := l.Open("ETHUSDT", SideShort, 2.0, 50.0, 3, 55.0, 45.0, 40.0, 0, 0, 1)
	require.NoError(t, err)

	pnl, err := l.Close("ETHUSDT", 0, 45.0, 0, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, pnl, 1e-9, "short pnl = (45-50)*2*(-1) - 1")
}

func TestPartialCloseKeepsSurvivor(t *testing.T) {
	l := New(1000.0, true)
	_, err := l.Open("BTCUSDT", SideLong, 2.0, 100.0, 5, 95.0, 105.0, 110.0, 0, 30.0, 1)
	require.NoError(t, err)

	pnl, err := l.Close("BTCUSDT", 0, 106.0, 1.0, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 5.75, pnl, 1e-9)

	lots := l.Lots("BTCUSDT")
	require.Len(t, lots, 1)
	assert.InDelta(t, 1.0, lots[0].Qty, 1e-12)
	assert.InDelta(t, 100.0, lots[0].Entry, 1e-12, "survivor keeps its entry price")
	assert.InDelta(t, 106.0, lots[0].TrailingAnchor, 1e-12, "anchor reset to exit price")
	assert.InDelta(t, 5.75, lots[0].RealizedPnL, 1e-9)
}

func TestNoHedgeStructuralViolation(t *testing.T) {
	l := New(1000.0, true)
	_, err := l.Open("BTCUSDT", SideLong, 1.0, 100.0, 1, 0, 0, 0, 0, 0, 1)
	require.NoError(t, err)

	_, err = l.Open("BTCUSDT", SideShort, 1.0, 100.0, 1, 0, 0, 0, 0, 0, 1)
	require.Error(t, err, "hedge under no-hedge policy is a programming error")
}

func TestHedgeAllowedWhenPolicyOff(t *testing.T) {
	l := New(1000.0, false)
	_, err := l.Open("BTCUSDT", SideLong, 1.0, 100.0, 1, 0, 0, 0, 0, 0, 1)
	require.NoError(t, err)
	_, err = l.Open("BTCUSDT", SideShort, 0.4, 100.0, 1, 0, 0, 0, 0, 0, 1)
	require.NoError(t, err)

	side, qty := l.NetExposure("BTCUSDT")
	assert.Equal(t, SideLong, side)
	assert.InDelta(t, 0.6, qty, 1e-12)
}

func TestOpenRejectsBadInputs(t *testing.T) {
	l := New(1000.0, true)
	_, err := l.Open("BTCUSDT", SideLong, 0, 100.0, 1, 0, 0, 0, 0, 0, 1)
	assert.Error(t, err)
	_, err = l.Open("BTCUSDT", SideLong, 1, 0, 1, 0, 0, 0, 0, 0, 1)
	assert.Error(t, err)
	_, err = l.Open("BTCUSDT", SideFlat, 1, 100.0, 1, 0, 0, 0, 0, 0, 1)
	assert.Error(t, err)
}

func TestCloseIndexOutOfRange(t *testing.T) {
	l := New(1000.0, true)
	_, err := l.Close("BTCUSDT", 0, 100.0, 0, 0)
	assert.Error(t, err)
}

func TestRestoreDropsInvalidLots(t *testing.T) {
	l := New(1000.0, true)
	entries := map[string]time.Time{"BTCUSDT": time.Unix(1700000000, 0)}
	l.Restore(map[string][]Lot{
		"BTCUSDT": {
			{Side: SideLong, Qty: 1.5, Entry: 100, Leverage: 5},
			{Side: SideLong, Qty: 0, Entry: 100, Leverage: 5}, // invalid, dropped
		},
		"ETHUSDT": {
			{Side: SideShort, Qty: -2, Entry: 50, Leverage: 2}, // invalid, dropped
		},
	}, true, entries)

	assert.True(t, l.Killswitch())
	assert.Equal(t, 1, l.OpenCount())
	ts, ok := l.LastEntry("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0), ts)
	assert.NotContains(t, l.CountBySymbol(), "ETHUSDT")
}

func TestRatchetPeakOnlyIncreases(t *testing.T) {
	l := New(1000.0, true)
	l.SetEquity(1100)
	assert.InDelta(t, 1100, l.RatchetPeak(), 1e-9)
	l.SetEquity(900)
	assert.InDelta(t, 1100, l.RatchetPeak(), 1e-9, "peak never decreases")
}

package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/perp-engine/internal/ledger"
)

func TestPaperFillAppliesAdverseSlippage(t *testing.T) {
	p := NewPaper(Fees{Taker: 0.0002}, 5)

	fill, fee, err := p.MarketOrder(context.Background(), "BTCUSDT", ledger.SideLong, 2.0, 100.0)
	require.NoError(t, err)
	assert.InDelta(t, 100.05, fill.Price, 1e-9, "long pays up by 5 bps")
	assert.InDelta(t, 100.05*2*0.0002, fee, 1e-9)

	fill, _, err = p.MarketOrder(context.Background(), "BTCUSDT", ledger.SideShort, 2.0, 100.0)
	require.NoError(t, err)
	assert.InDelta(t, 99.95, fill.Price, 1e-9, "short sells down by 5 bps")
}

func TestPaperZeroSlippage(t *testing.T) {
	p := NewPaper(Fees{Taker: 0}, 0)
	fill, fee, err := p.MarketOrder(context.Background(), "ETHUSDT", ledger.SideLong, 1.0, 50.0)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, fill.Price, 1e-12)
	assert.InDelta(t, 50.0*0.0002, fee, 1e-12, "taker fee defaults when zero")
}

func TestPaperSetLeverageRemembered(t *testing.T) {
	p := NewPaper(Fees{Taker: 0.0002}, 5)
	require.NoError(t, p.SetLeverage(context.Background(), "BTCUSDT", 7))
	assert.Equal(t, 7, p.leverage["BTCUSDT"])
}

package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/perp-engine/internal/exchange/bybit"
	"github.com/quantfleet/perp-engine/internal/ledger"
)

type fakeVenue struct {
	placed      []string // order link IDs in submission order
	failCodes   []int    // per-call retCode, 0 = success; exhausted = success
	latestPrice float64
	positions   []bybit.PositionInfo
	balance     bybit.WalletBalance
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, symbol string, side bybit.OrderSide, qty float64, orderLinkID string, reduceOnly bool) (bybit.OrderResult, error) {
	call := len(f.placed)
	f.placed = append(f.placed, orderLinkID)
	if call < len(f.failCodes) && f.failCodes[call] != 0 {
		return bybit.OrderResult{}, bybit.NewAPIError(f.failCodes[call], "injected")
	}
	return bybit.OrderResult{OrderID: "oid", OrderLinkID: orderLinkID}, nil
}

func (f *fakeVenue) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeVenue) SetTradingStop(context.Context, string, float64, float64) error {
	return nil
}
func (f *fakeVenue) GetWalletBalance(context.Context) (bybit.WalletBalance, error) {
	return f.balance, nil
}
func (f *fakeVenue) GetPositions(context.Context, string) ([]bybit.PositionInfo, error) {
	return f.positions, nil
}
func (f *fakeVenue) GetLatestPrice(context.Context, string) (float64, error) {
	return f.latestPrice, nil
}

func TestIntentKeyDeterministic(t *testing.T) {
	a := IntentKey("MO", "BTCUSDT", ledger.SideLong, 1.5, 100.0)
	b := IntentKey("MO", "BTCUSDT", ledger.SideLong, 1.5, 100.0)
	assert.Equal(t, a, b)
	assert.Len(t, a, len("MO-")+24)

	// any changed field yields a different key
	assert.NotEqual(t, a, IntentKey("MO", "ETHUSDT", ledger.SideLong, 1.5, 100.0))
	assert.NotEqual(t, a, IntentKey("MO", "BTCUSDT", ledger.SideShort, 1.5, 100.0))
	assert.NotEqual(t, a, IntentKey("MO", "BTCUSDT", ledger.SideLong, 2.0, 100.0))
	assert.NotEqual(t, a, IntentKey("MO", "BTCUSDT", ledger.SideLong, 1.5, 101.0))
	assert.NotEqual(t, a, IntentKey("CLOSE", "BTCUSDT", ledger.SideLong, 1.5, 100.0))
}

func TestLiveRetriedIntentPlacesOneOrder(t *testing.T) {
	venue := &fakeVenue{latestPrice: 100.5}
	l := newLive(venue, Fees{Taker: 0.0002})
	ctx := context.Background()

	fill1, fee1, err := l.MarketOrder(ctx, "BTCUSDT", ledger.SideLong, 1.0, 100.0)
	require.NoError(t, err)
	assert.InDelta(t, 100.5, fill1.Price, 1e-9)
	assert.Greater(t, fee1, 0.0)

	// identical intent again: cached fill, no second placement
	fill2, fee2, err := l.MarketOrder(ctx, "BTCUSDT", ledger.SideLong, 1.0, 100.0)
	require.NoError(t, err)
	assert.Equal(t, fill1, fill2)
	assert.Zero(t, fee2, "no new fee charged for a deduplicated retry")
	assert.Len(t, venue.placed, 1, "only one order reached the venue")
}

func TestLiveDuplicateLinkIDTreatedAsExecuted(t *testing.T) {
	venue := &fakeVenue{
		latestPrice: 100.0,
		failCodes:   []int{bybit.ErrCodeDuplicateOrderID},
	}
	l := newLive(venue, Fees{Taker: 0.0002})

	fill, _, err := l.MarketOrder(context.Background(), "BTCUSDT", ledger.SideLong, 1.0, 100.0)
	require.NoError(t, err, "duplicate ID confirms the earlier attempt landed")
	assert.InDelta(t, 100.0, fill.Price, 1e-9)
}

func TestLivePermanentErrorSurfaces(t *testing.T) {
	venue := &fakeVenue{
		latestPrice: 100.0,
		failCodes:   []int{bybit.ErrCodeInsufficientBalance},
	}
	l := newLive(venue, Fees{Taker: 0.0002})

	_, _, err := l.MarketOrder(context.Background(), "BTCUSDT", ledger.SideLong, 1.0, 100.0)
	require.Error(t, err)
	assert.True(t, bybit.IsInsufficientBalance(err))

	// failed intent is not cached: a retry resubmits
	_, _, err = l.MarketOrder(context.Background(), "BTCUSDT", ledger.SideLong, 1.0, 100.0)
	require.NoError(t, err)
	assert.Len(t, venue.placed, 2)
	assert.Equal(t, venue.placed[0], venue.placed[1], "same intent key on resubmission")
}

func TestLiveFillPriceFallsBackToRef(t *testing.T) {
	venue := &fakeVenue{latestPrice: 0}
	l := newLive(venue, Fees{Taker: 0.0002})

	fill, _, err := l.MarketOrder(context.Background(), "BTCUSDT", ledger.SideShort, 1.0, 99.5)
	require.NoError(t, err)
	assert.InDelta(t, 99.5, fill.Price, 1e-9)
}

func TestLiveFetchPositionsMapsSides(t *testing.T) {
	venue := &fakeVenue{positions: []bybit.PositionInfo{
		{Symbol: "BTCUSDT", Side: "Buy", Size: 1.5, AvgPrice: 100, Leverage: 5},
		{Symbol: "ETHUSDT", Side: "Sell", Size: 2, AvgPrice: 50, Leverage: 3},
	}}
	l := newLive(venue, Fees{Taker: 0.0002})

	positions, err := l.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, ledger.SideLong, positions[0].Side)
	assert.Equal(t, ledger.SideShort, positions[1].Side)
}

func TestLiveCloseAllFlattensNetExposure(t *testing.T) {
	venue := &fakeVenue{latestPrice: 100}
	l := newLive(venue, Fees{Taker: 0.0002})

	err := l.CloseAll(context.Background(), map[string]float64{
		"BTCUSDT": 1.5,   // long, expect a sell
		"ETHUSDT": -2.0,  // short, expect a buy
		"SOLUSDT": 0.0,   // flat, skipped
	})
	require.NoError(t, err)
	assert.Len(t, venue.placed, 2)
}

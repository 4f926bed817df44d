package exchange

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quantfleet/perp-engine/internal/exchange/bybit"
	"github.com/quantfleet/perp-engine/internal/ledger"
)

// venueAPI is the slice of the Bybit wrapper the live adapter uses.
// Extracted so execution paths can be exercised against a fake venue.
type venueAPI interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side bybit.OrderSide, qty float64, orderLinkID string, reduceOnly bool) (bybit.OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit float64) error
	GetWalletBalance(ctx context.Context) (bybit.WalletBalance, error)
	GetPositions(ctx context.Context, symbol string) ([]bybit.PositionInfo, error)
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Live executes against the venue. Every order carries a deterministic
// idempotency key derived from the intent, and executed keys are cached so
// a retried identical intent returns the original fill instead of placing a
// second order.
type Live struct {
	api      venueAPI
	fees     Fees
	executed map[string]Fill
}

// NewLive creates the live execution adapter over a Bybit client.
func NewLive(client *bybit.Client, fees Fees) *Live {
	return newLive(client, fees)
}

func newLive(api venueAPI, fees Fees) *Live {
	if fees.Taker == 0 {
		fees.Taker = 0.0002
	}
	return &Live{
		api:      api,
		fees:     fees,
		executed: make(map[string]Fill),
	}
}

func (l *Live) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return l.api.SetLeverage(ctx, symbol, leverage)
}

// MarketOrder submits the order with its intent key as the order link ID.
// A repeated intent returns the cached fill; a duplicate-ID response from
// the venue is treated the same way, since it proves the first attempt
// landed.
func (l *Live) MarketOrder(ctx context.Context, symbol string, side ledger.Side, qty, refPrice float64) (Fill, float64, error) {
	if side != ledger.SideLong && side != ledger.SideShort {
		return Fill{}, 0, fmt.Errorf("exchange: non-directional side %q", side)
	}
	key := IntentKey("MO", symbol, side, qty, refPrice)
	if fill, ok := l.executed[key]; ok {
		return fill, 0, nil
	}

	orderSide := bybit.OrderSideSell
	if side == ledger.SideLong {
		orderSide = bybit.OrderSideBuy
	}
	_, err := l.api.PlaceMarketOrder(ctx, symbol, orderSide, qty, key, false)
	if err != nil && !bybit.IsDuplicateOrderID(err) {
		return Fill{}, 0, err
	}

	price := l.fillPrice(ctx, symbol, refPrice)
	fill := Fill{Price: price, Qty: qty, Side: side, Time: time.Now().UTC()}
	l.executed[key] = fill
	fee := math.Abs(price*qty) * l.fees.Taker
	return fill, fee, nil
}

// fillPrice asks the venue for the latest traded price and falls back to the
// caller's reference price when the lookup fails.
func (l *Live) fillPrice(ctx context.Context, symbol string, refPrice float64) float64 {
	price, err := l.api.GetLatestPrice(ctx, symbol)
	if err != nil || price <= 0 {
		return refPrice
	}
	return price
}

// PlaceProtections sets the position-level stop and target on the venue.
// The far target (tp2) is the exchange-side protection; tp1 partial exits
// are handled by the control loop.
func (l *Live) PlaceProtections(ctx context.Context, symbol string, side ledger.Side, qty, sl, tp1, tp2 float64) error {
	if qty <= 0 {
		return nil
	}
	return l.api.SetTradingStop(ctx, symbol, sl, tp2)
}

func (l *Live) FetchBalance(ctx context.Context) (float64, error) {
	wallet, err := l.api.GetWalletBalance(ctx)
	if err != nil {
		return 0, err
	}
	return wallet.TotalEquity, nil
}

func (l *Live) FetchPositions(ctx context.Context) ([]Position, error) {
	raw, err := l.api.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		side := ledger.SideFlat
		switch p.Side {
		case "Buy":
			side = ledger.SideLong
		case "Sell":
			side = ledger.SideShort
		}
		out = append(out, Position{
			Symbol:   p.Symbol,
			Side:     side,
			Qty:      p.Size,
			AvgPrice: p.AvgPrice,
			Leverage: p.Leverage,
		})
	}
	return out, nil
}

// CloseAll flattens every net position with reduce-only market orders.
// Failures on one symbol do not stop the sweep; the first error is returned
// after all symbols were attempted.
func (l *Live) CloseAll(ctx context.Context, netBySymbol map[string]float64) error {
	var firstErr error
	for symbol, net := range netBySymbol {
		if math.Abs(net) < 1e-12 {
			continue
		}
		orderSide := bybit.OrderSideSell
		if net < 0 {
			orderSide = bybit.OrderSideBuy
		}
		qty := math.Abs(net)
		key := IntentKey("CLOSE", symbol, sideFromOrder(orderSide), qty, 0)
		if _, err := l.api.PlaceMarketOrder(ctx, symbol, orderSide, qty, key, true); err != nil && !bybit.IsDuplicateOrderID(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func sideFromOrder(s bybit.OrderSide) ledger.Side {
	if s == bybit.OrderSideBuy {
		return ledger.SideLong
	}
	return ledger.SideShort
}

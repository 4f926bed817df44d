package exchange

import (
	"context"
	"math"
	"time"

	"github.com/quantfleet/perp-engine/internal/ledger"
)

// Paper is the simulated venue: fills are immediate at the reference price
// adjusted by a fixed adverse slippage, fees are taker fraction of notional.
// No network, no retry.
type Paper struct {
	fees        Fees
	slippageBps int
	leverage    map[string]int
}

// NewPaper creates a simulated exchange.
func NewPaper(fees Fees, slippageBps int) *Paper {
	if fees.Taker == 0 {
		fees.Taker = 0.0002
	}
	return &Paper{
		fees:        fees,
		slippageBps: slippageBps,
		leverage:    make(map[string]int),
	}
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	p.leverage[symbol] = leverage
	return nil
}

// MarketOrder fills at refPrice pushed against the trade by slippageBps.
func (p *Paper) MarketOrder(_ context.Context, symbol string, side ledger.Side, qty, refPrice float64) (Fill, float64, error) {
	slip := float64(p.slippageBps) / 10000.0
	price := refPrice * (1 - slip)
	if side == ledger.SideLong {
		price = refPrice * (1 + slip)
	}
	fee := math.Abs(price*qty) * p.fees.Taker
	return Fill{Price: price, Qty: qty, Side: side, Time: time.Now().UTC()}, fee, nil
}

// PlaceProtections is a no-op: the control loop enforces stops and targets
// itself against observed prices in simulation.
func (p *Paper) PlaceProtections(context.Context, string, ledger.Side, float64, float64, float64, float64) error {
	return nil
}

// FetchBalance reports no external balance; the caller keeps its own equity.
func (p *Paper) FetchBalance(context.Context) (float64, error) { return 0, nil }

func (p *Paper) FetchPositions(context.Context) ([]Position, error) { return nil, nil }

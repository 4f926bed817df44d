// Package exchange abstracts order execution over a simulated or live venue.
package exchange

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/quantfleet/perp-engine/internal/ledger"
)

// Fill is the result of an executed market order.
type Fill struct {
	Price float64
	Qty   float64
	Side  ledger.Side
	Time  time.Time
}

// Position is one venue-side open position, used for reconciliation.
type Position struct {
	Symbol   string
	Side     ledger.Side
	Qty      float64
	AvgPrice float64
	Leverage float64
}

// Fees are the venue fee fractions of notional.
type Fees struct {
	Taker float64
	Maker float64
}

// Exchange is the order execution contract the control loop depends on.
// Implementations must be safe to call sequentially from a single goroutine;
// no concurrent use is required or expected.
type Exchange interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// MarketOrder executes at market and returns the fill and fee paid.
	// refPrice is the caller's last observed price, used for simulated
	// fills and as a fallback when the venue omits an average price.
	MarketOrder(ctx context.Context, symbol string, side ledger.Side, qty, refPrice float64) (Fill, float64, error)

	// PlaceProtections attaches reduce-only stop-loss / take-profit orders
	// for the open position. Zero levels are skipped.
	PlaceProtections(ctx context.Context, symbol string, side ledger.Side, qty, sl, tp1, tp2 float64) error

	FetchBalance(ctx context.Context) (float64, error)
	FetchPositions(ctx context.Context) ([]Position, error)
}

// IntentKey derives the deterministic idempotency key for an order intent.
// Identical intents always produce the same key, so a retried submission is
// recognizable on both sides of the wire. The reference price is part of the
// intent: the same symbol/side/qty at a different price is a new decision,
// not a retry.
func IntentKey(prefix, symbol string, side ledger.Side, qty, refPrice float64) string {
	raw := prefix + "|" +
		"qty=" + strconv.FormatFloat(qty, 'f', -1, 64) + "|" +
		"ref=" + strconv.FormatFloat(refPrice, 'f', -1, 64) + "|" +
		"side=" + string(side) + "|" +
		"symbol=" + symbol
	sum := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(sum[:])[:24])
}

package marketdata

import (
	"context"
	"time"
)

// Candle is a single OHLCV bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Row is the derived indicator row for the latest bar. Indicator computation
// itself is supplied by the caller; the engine only consumes the values.
type Row struct {
	Close      float64
	ATR        float64
	ADX        float64
	BBWidth    float64
	BBLow      float64
	BBHigh     float64
	EMAFast    float64
	EMASlow    float64
	RSI        float64
	MACD       float64
	MACDSignal float64
}

// Funding describes the current funding rate for a perpetual symbol.
type Funding struct {
	AnnualizedBps  float64
	NextSettlement time.Time
}

// Provider supplies per-symbol market snapshots and funding data. The
// control loop consumes it read-only each tick.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (Row, error)
	FundingRate(ctx context.Context, symbol string) (Funding, error)
}

// ComputeFunc turns a candle window into an indicator row. It is the seam
// where an external indicator pipeline plugs in.
type ComputeFunc func(candles []Candle) (Row, error)

// LastClose is a minimal ComputeFunc that fills only the close price,
// leaving all indicator fields zero. Useful for manage-only deployments and
// tests that do not exercise indicator-driven paths.
func LastClose(candles []Candle) (Row, error) {
	var row Row
	if len(candles) > 0 {
		row.Close = candles[len(candles)-1].Close
	}
	return row, nil
}

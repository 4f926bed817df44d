package marketdata

import (
	"context"
	"fmt"

	"github.com/quantfleet/perp-engine/internal/exchange/bybit"
)

// klineSource is the subset of the venue client the provider needs.
type klineSource interface {
	GetKlines(ctx context.Context, symbol string, interval bybit.KlineInterval, limit int) ([]bybit.Kline, error)
	GetFundingInfo(ctx context.Context, symbol string) (bybit.FundingInfo, error)
}

// BybitProvider builds indicator rows from Bybit kline data.
type BybitProvider struct {
	client   klineSource
	interval bybit.KlineInterval
	window   int
	compute  ComputeFunc
}

// NewBybitProvider wires a venue client to an indicator pipeline. The compute
// function receives the candle window oldest first.
func NewBybitProvider(client *bybit.Client, interval string, window int, compute ComputeFunc) *BybitProvider {
	return newBybitProvider(client, interval, window, compute)
}

func newBybitProvider(client klineSource, interval string, window int, compute ComputeFunc) *BybitProvider {
	if window <= 0 {
		window = 200
	}
	if compute == nil {
		compute = LastClose
	}
	return &BybitProvider{
		client:   client,
		interval: bybit.KlineInterval(interval),
		window:   window,
		compute:  compute,
	}
}

func (p *BybitProvider) Snapshot(ctx context.Context, symbol string) (Row, error) {
	klines, err := p.client.GetKlines(ctx, symbol, p.interval, p.window)
	if err != nil {
		return Row{}, fmt.Errorf("snapshot %s: %w", symbol, err)
	}
	if len(klines) == 0 {
		return Row{}, fmt.Errorf("snapshot %s: no candles returned", symbol)
	}

	candles := make([]Candle, len(klines))
	for i, k := range klines {
		candles[i] = Candle{
			Time:   k.StartTime,
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
	}

	row, err := p.compute(candles)
	if err != nil {
		return Row{}, fmt.Errorf("snapshot %s: compute indicators: %w", symbol, err)
	}
	if row.Close <= 0 {
		return Row{}, fmt.Errorf("snapshot %s: indicator row has no close price", symbol)
	}
	return row, nil
}

// FundingRate annualizes the per-interval rate. Funding settles three times
// a day, so annualized bps = rate * 3 * 365 * 10000.
func (p *BybitProvider) FundingRate(ctx context.Context, symbol string) (Funding, error) {
	info, err := p.client.GetFundingInfo(ctx, symbol)
	if err != nil {
		return Funding{}, fmt.Errorf("funding %s: %w", symbol, err)
	}
	return Funding{
		AnnualizedBps:  info.Rate * 3 * 365 * 10000,
		NextSettlement: info.NextSettlement,
	}, nil
}

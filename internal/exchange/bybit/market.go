package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// KlineInterval represents the time interval for kline data.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1"
	Interval5m  KlineInterval = "5"
	Interval15m KlineInterval = "15"
	Interval1h  KlineInterval = "60"
	Interval4h  KlineInterval = "240"
	Interval1d  KlineInterval = "D"
)

// Kline represents a single candlestick.
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}

// FundingInfo is the funding state of a perpetual contract.
type FundingInfo struct {
	Rate           float64 // per-interval rate, e.g. 0.0001 = 1bps per 8h
	NextSettlement time.Time
}

// GetKlines fetches candlestick data, newest first per the API, returned
// oldest first for indicator pipelines.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]Kline, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
		"interval": string(interval),
		"limit":    limit,
	}

	var klines []Kline
	err := Retry(ctx, c.retry, "GetKlines", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
		if err != nil {
			return err
		}
		klines, err = parseKlineResponse(result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return klines, nil
}

// GetLatestPrice gets the last traded price for a symbol.
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}

	var price float64
	err := Retry(ctx, c.retry, "GetLatestPrice", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return err
		}
		price, err = parseLatestPriceResponse(result)
		return err
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// GetFundingInfo returns the current funding rate and next settlement time.
func (c *Client) GetFundingInfo(ctx context.Context, symbol string) (FundingInfo, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}

	var info FundingInfo
	err := Retry(ctx, c.retry, "GetFundingInfo", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return err
		}
		info, err = parseFundingResponse(result)
		return err
	})
	if err != nil {
		return FundingInfo{}, err
	}
	return info, nil
}

func decodeResult(op string, response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("bybit %s: unexpected response type %T", op, response)
	}
	if err := ParseRet(op, serverResp.RetCode, serverResp.RetMsg); err != nil {
		return err
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("bybit %s: marshal result: %w", op, err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("bybit %s: unmarshal result: %w", op, err)
	}
	return nil
}

func parseKlineResponse(response interface{}) ([]Kline, error) {
	var result struct {
		List [][]string `json:"list"`
	}
	if err := decodeResult("GetKlines", response, &result); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(result.List))
	// API returns newest first: [startTime, open, high, low, close, volume, turnover]
	for i := len(result.List) - 1; i >= 0; i-- {
		item := result.List[i]
		if len(item) < 7 {
			continue
		}
		klines = append(klines, Kline{
			StartTime: time.UnixMilli(parseInt64(item[0])),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
			Turnover:  parseFloat64(item[6]),
		})
	}
	return klines, nil
}

func parseLatestPriceResponse(response interface{}) (float64, error) {
	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeResult("GetLatestPrice", response, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("bybit GetLatestPrice: empty ticker list")
	}
	price := parseFloat64(result.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("bybit GetLatestPrice: invalid price %q", result.List[0].LastPrice)
	}
	return price, nil
}

func parseFundingResponse(response interface{}) (FundingInfo, error) {
	var result struct {
		List []struct {
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	}
	if err := decodeResult("GetFundingInfo", response, &result); err != nil {
		return FundingInfo{}, err
	}
	if len(result.List) == 0 {
		return FundingInfo{}, fmt.Errorf("bybit GetFundingInfo: empty ticker list")
	}
	return FundingInfo{
		Rate:           parseFloat64(result.List[0].FundingRate),
		NextSettlement: time.UnixMilli(parseInt64(result.List[0].NextFundingTime)),
	}, nil
}

func parseFloat64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

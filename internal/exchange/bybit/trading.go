package bybit

import (
	"context"
	"fmt"
	"strconv"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderResult is the acknowledgment returned when an order is accepted.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PositionInfo is one side of an open position as reported by the exchange.
type PositionInfo struct {
	Symbol        string
	Side          string // "Buy", "Sell" or "" when flat
	Size          float64
	AvgPrice      float64
	Leverage      float64
	UnrealisedPnL float64
	StopLoss      float64
	TakeProfit    float64
}

// PlaceMarketOrder submits a market order. orderLinkID is the caller's
// idempotency token; resubmitting the same ID never creates a second order.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, qty float64, orderLinkID string, reduceOnly bool) (OrderResult, error) {
	if symbol == "" || qty <= 0 {
		return OrderResult{}, fmt.Errorf("bybit PlaceMarketOrder: invalid symbol %q or qty %.8f", symbol, qty)
	}
	params := map[string]interface{}{
		"category":  CategoryLinear,
		"symbol":    symbol,
		"side":      string(side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if orderLinkID != "" {
		params["orderLinkId"] = orderLinkID
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	var out OrderResult
	err := Retry(ctx, c.retry, "PlaceMarketOrder", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
		if err != nil {
			return err
		}
		return decodeResult("PlaceMarketOrder", result, &out)
	})
	if err != nil {
		return OrderResult{}, err
	}
	return out, nil
}

// SetLeverage sets the leverage for a symbol. The "not modified" response is
// treated as success.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]interface{}{
		"category":     CategoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err := Retry(ctx, c.retry, "SetLeverage", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
		if err != nil {
			return err
		}
		var out struct{}
		if err := decodeResult("SetLeverage", result, &out); err != nil {
			if IsLeverageNotModified(err) {
				return nil
			}
			return err
		}
		return nil
	})
	return err
}

// SetTradingStop attaches stop-loss and take-profit protections to the open
// position on the exchange side. Zero values clear the respective field.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	params := map[string]interface{}{
		"category":    CategoryLinear,
		"symbol":      symbol,
		"positionIdx": 0,
		"stopLoss":    strconv.FormatFloat(stopLoss, 'f', -1, 64),
		"takeProfit":  strconv.FormatFloat(takeProfit, 'f', -1, 64),
	}
	return Retry(ctx, c.retry, "SetTradingStop", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
		if err != nil {
			return err
		}
		var out struct{}
		return decodeResult("SetTradingStop", result, &out)
	})
}

// GetPositions returns open positions, optionally filtered to one symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := map[string]interface{}{
		"category":   CategoryLinear,
		"settleCoin": "USDT",
	}
	if symbol != "" {
		params["symbol"] = symbol
		delete(params, "settleCoin")
	}

	var positions []PositionInfo
	err := Retry(ctx, c.retry, "GetPositions", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return err
		}
		var out struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				StopLoss      string `json:"stopLoss"`
				TakeProfit    string `json:"takeProfit"`
			} `json:"list"`
		}
		if err := decodeResult("GetPositions", result, &out); err != nil {
			return err
		}
		positions = positions[:0]
		for _, p := range out.List {
			size := parseFloat64(p.Size)
			if size == 0 {
				continue
			}
			positions = append(positions, PositionInfo{
				Symbol:        p.Symbol,
				Side:          p.Side,
				Size:          size,
				AvgPrice:      parseFloat64(p.AvgPrice),
				Leverage:      parseFloat64(p.Leverage),
				UnrealisedPnL: parseFloat64(p.UnrealisedPnl),
				StopLoss:      parseFloat64(p.StopLoss),
				TakeProfit:    parseFloat64(p.TakeProfit),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// CancelOrder cancels an open order by exchange ID or link ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID, orderLinkID string) error {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}
	if orderID != "" {
		params["orderId"] = orderID
	}
	if orderLinkID != "" {
		params["orderLinkId"] = orderLinkID
	}
	return Retry(ctx, c.retry, "CancelOrder", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
		if err != nil {
			return err
		}
		var out struct{}
		return decodeResult("CancelOrder", result, &out)
	})
}

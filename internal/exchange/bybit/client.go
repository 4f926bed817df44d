// Package bybit wraps the official Bybit v5 API client with the small
// surface the trading engine needs: klines, tickers, funding, orders,
// leverage, protections and wallet balance.
package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Category for USDT perpetuals. The engine trades linear contracts only.
const CategoryLinear = "linear"

// Client wraps the Bybit API client with retry support and environment
// selection.
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
	demo       bool
	retry      RetryConfig
}

// Config holds the configuration for the Bybit client.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // demo trading environment (paper fills on real prices)
}

// NewClient creates a new Bybit client.
func NewClient(config Config) *Client {
	var baseURL string
	if config.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		demo:       config.Demo,
		retry:      DefaultRetryConfig(),
	}
}

// IsDemo returns whether the client is configured for demo trading.
func (c *Client) IsDemo() bool { return c.demo }

// Environment returns a string describing the current environment.
func (c *Client) Environment() string {
	if c.demo {
		return "demo"
	}
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

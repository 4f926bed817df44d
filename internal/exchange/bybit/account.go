package bybit

import (
	"context"
	"fmt"
)

// WalletBalance is the USDT balance of the unified trading account.
type WalletBalance struct {
	TotalEquity      float64
	AvailableBalance float64
	WalletBalance    float64
}

// GetWalletBalance retrieves the unified account balance for USDT.
func (c *Client) GetWalletBalance(ctx context.Context) (WalletBalance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	var wallet WalletBalance
	err := Retry(ctx, c.retry, "GetWalletBalance", func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return err
		}
		var out struct {
			List []struct {
				TotalEquity           string `json:"totalEquity"`
				TotalAvailableBalance string `json:"totalAvailableBalance"`
				Coin                  []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
				} `json:"coin"`
			} `json:"list"`
		}
		if err := decodeResult("GetWalletBalance", result, &out); err != nil {
			return err
		}
		if len(out.List) == 0 {
			return fmt.Errorf("bybit GetWalletBalance: empty account list")
		}
		acct := out.List[0]
		wallet = WalletBalance{
			TotalEquity:      parseFloat64(acct.TotalEquity),
			AvailableBalance: parseFloat64(acct.TotalAvailableBalance),
		}
		for _, coin := range acct.Coin {
			if coin.Coin == "USDT" {
				wallet.WalletBalance = parseFloat64(coin.WalletBalance)
			}
		}
		return nil
	})
	if err != nil {
		return WalletBalance{}, err
	}
	return wallet, nil
}

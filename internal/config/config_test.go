package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"]}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, 60, cfg.LoopSeconds)
	assert.Equal(t, 1000.0, cfg.InitialEquity)
	assert.Equal(t, 0.0002, cfg.Fees.Taker)
	assert.Equal(t, 5, cfg.Paper.SlippageBps)
	assert.Equal(t, 6, cfg.Limits.MaxTotalPositions)
	assert.Equal(t, 4, cfg.Limits.MaxPerSymbol)
	assert.Equal(t, 120, cfg.Cooldown)
	assert.Equal(t, 2.0, cfg.StopMult)
	assert.Equal(t, "atr", cfg.Trailing.Mode)
	assert.Equal(t, 2.0, cfg.Trailing.ATRK)
	assert.Equal(t, 0.5, cfg.Trailing.MinStepATR)
	assert.Equal(t, 0.005, cfg.OrderSizes.RiskPct)
	assert.Equal(t, 5, cfg.Leverage.Default)
	assert.Equal(t, "data/state.json", cfg.Storage.StatePath)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"symbols": ["BTCUSDT", "ETHUSDT"],
		"mode": "paper",
		"loop_seconds": 30,
		"initial_equity": 5000,
		"stop_mult": 2.5,
		"limits": {"max_total_positions": 8, "max_per_symbol": 3, "no_hedge": true},
		"trailing": {"enabled": true, "mode": "ema", "ema_key": "ema_slow", "ema_k": 1.5},
		"dca": {"enabled": true, "min_adx_increase": 3.0}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 30, cfg.LoopSeconds)
	assert.Equal(t, 5000.0, cfg.InitialEquity)
	assert.Equal(t, 2.5, cfg.StopMult)
	assert.True(t, cfg.Limits.NoHedge)
	assert.Equal(t, "ema", cfg.Trailing.Mode)
	assert.Equal(t, "ema_slow", cfg.Trailing.EMAKey)
	assert.Equal(t, 1.5, cfg.Trailing.EMAK)
	assert.Equal(t, 3.0, cfg.DCA.MinADXIncrease)
	// Unset nested field still defaulted
	assert.Equal(t, 0.5, cfg.DCA.EMAPullbackATR)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"symbols": [`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Symbols = nil
	cfg.Mode = "simulated"
	cfg.InitialEquity = -5
	cfg.StopMult = 0
	cfg.Trailing.Mode = "chandelier"

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "symbols")
	assert.Contains(t, msg, "mode")
	assert.Contains(t, msg, "initial_equity")
	assert.Contains(t, msg, "stop_mult")
	assert.Contains(t, msg, "trailing.mode")
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"], "mode": "live"}`)
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BYBIT_API_KEY")
}

func TestValidateLiveWithCredentials(t *testing.T) {
	path := writeConfig(t, `{"symbols": ["BTCUSDT"], "mode": "live"}`)
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
}

func TestValidatePerSymbolExceedsTotal(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCUSDT"}}
	cfg.setDefaults()
	cfg.Limits.MaxTotalPositions = 2
	cfg.Limits.MaxPerSymbol = 4

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_per_symbol")
}

func TestValidateCorrelationGuard(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCUSDT"}}
	cfg.setDefaults()
	cfg.Correlation.Enabled = true
	cfg.Correlation.Clusters = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clusters")
}

func TestValidateBreakerBounds(t *testing.T) {
	cfg := &Config{Symbols: []string{"BTCUSDT"}}
	cfg.setDefaults()
	cfg.Breakers.MaxDailyLossPct = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_daily_loss_pct")
}

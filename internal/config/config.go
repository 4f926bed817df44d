// Package config loads and validates the engine configuration from a JSON
// file, with credentials taken from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the complete engine configuration.
type Config struct {
	// Trading universe and loop cadence
	Symbols     []string `json:"symbols"`
	Interval    string   `json:"interval"`     // candle interval (1, 5, 15, 60...)
	WindowSize  int      `json:"window_size"`  // candles fetched per snapshot
	LoopSeconds int      `json:"loop_seconds"` // inter-tick sleep

	Mode          string              `json:"mode"` // "paper" or "live"
	InitialEquity float64             `json:"initial_equity"`
	Fees          FeesConfig          `json:"fees"`
	Paper         PaperConfig         `json:"paper"`
	Limits        LimitsConfig        `json:"limits"`
	Cooldown      int                 `json:"cooldown_seconds"`
	StopMult      float64             `json:"stop_mult"`
	PortfolioCaps PortfolioCapsConfig `json:"portfolio_caps"`
	Correlation   CorrelationConfig   `json:"correlation_guard"`
	FundingWindow FundingWindowConfig `json:"funding_window"`
	Trailing      TrailingConfig      `json:"trailing"`
	DCA           DCAConfig           `json:"dca"`
	OrderSizes    OrderSizesConfig    `json:"order_sizes"`
	Leverage      LeverageConfig      `json:"leverage"`
	Breakers      BreakersConfig      `json:"circuit_breakers"`
	Storage       StorageConfig       `json:"storage"`
	Exchange      ExchangeConfig      `json:"exchange"`
	Notifications NotificationsConfig `json:"notifications"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
}

type FeesConfig struct {
	Taker float64 `json:"taker"`
	Maker float64 `json:"maker"`
}

type PaperConfig struct {
	SlippageBps int `json:"slippage_bps"`
}

type LimitsConfig struct {
	MaxTotalPositions int  `json:"max_total_positions"`
	MaxPerSymbol      int  `json:"max_per_symbol"`
	NoHedge           bool `json:"no_hedge"`
}

type PortfolioCapsConfig struct {
	MaxPortfolioLeverage  float64 `json:"max_portfolio_leverage"`
	MaxPortfolioMarginPct float64 `json:"max_portfolio_margin_pct"`
}

type CorrelationConfig struct {
	Enabled                  bool       `json:"enabled"`
	Clusters                 [][]string `json:"clusters"`
	SameSideMaxExposureRatio float64    `json:"same_side_max_exposure_ratio"`
}

type FundingWindowConfig struct {
	Enabled       bool    `json:"enabled"`
	WindowMinutes int     `json:"window_minutes"`
	MinAbsBps     float64 `json:"min_abs_bps"`
}

type TrailingConfig struct {
	Enabled    bool    `json:"enabled"`
	Mode       string  `json:"mode"` // atr, ema, percent
	ATRK       float64 `json:"atr_k"`
	EMAKey     string  `json:"ema_key"`
	EMAK       float64 `json:"ema_k"`
	Percent    float64 `json:"percent"`
	MinStepATR float64 `json:"min_step_atr"`
}

type DCAConfig struct {
	Enabled        bool    `json:"enabled"`
	MinADXIncrease float64 `json:"min_adx_increase"`
	EMAPullbackATR float64 `json:"ema_pullback_atr"`
	PctScalePerAdd float64 `json:"pct_scale_per_add"`
}

type OrderSizesConfig struct {
	RiskPct    float64 `json:"risk_pct"`    // fraction of equity risked per trade
	DefaultPct float64 `json:"default_pct"` // baseline margin fraction before regime scaling
	MinPct     float64 `json:"min_pct"`     // floor on margin fraction per entry
	MaxPct     float64 `json:"max_pct"`     // ceiling on margin fraction per entry

	// Per-trade caps, zero disables.
	MaxMarginPerTrade   float64 `json:"max_margin_per_trade"`
	MaxNotionalPerTrade float64 `json:"max_notional_per_trade"`
}

type LeverageConfig struct {
	Min     int `json:"min"`
	Default int `json:"default"`
	Max     int `json:"max"`
}

type BreakersConfig struct {
	MaxDailyLossPct  float64 `json:"max_daily_loss_pct"`
	MaxWeeklyLossPct float64 `json:"max_weekly_loss_pct"`
	MaxGlobalLossPct float64 `json:"max_global_loss_pct"`
}

type StorageConfig struct {
	StatePath  string `json:"state_path"`
	SQLitePath string `json:"sqlite_path"`
	LogDir     string `json:"log_dir"`
}

// ExchangeConfig holds venue selection; credentials come from the
// environment, never from the config file.
type ExchangeConfig struct {
	Testnet bool `json:"testnet"`
	Demo    bool `json:"demo"`

	APIKey    string `json:"-"`
	APISecret string `json:"-"`
}

type NotificationsConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

type MonitoringConfig struct {
	MetricsPort int `json:"metrics_port"`
	HealthPort  int `json:"health_port"`
}

// Load reads, defaults and validates the configuration. Validation collects
// every invalid field into one error so a broken deployment is fixed in one
// pass, not field by field.
func Load(configFile string) (*Config, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	cfg.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults fills missing fields with documented defaults.
func (c *Config) setDefaults() {
	if c.Interval == "" {
		c.Interval = "5"
	}
	if c.WindowSize == 0 {
		c.WindowSize = 200
	}
	if c.LoopSeconds == 0 {
		c.LoopSeconds = 60
	}
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.InitialEquity == 0 {
		c.InitialEquity = 1000
	}
	if c.Fees.Taker == 0 {
		c.Fees.Taker = 0.0002
	}
	if c.Fees.Maker == 0 {
		c.Fees.Maker = 0.0002
	}
	if c.Paper.SlippageBps == 0 {
		c.Paper.SlippageBps = 5
	}
	if c.Limits.MaxTotalPositions == 0 {
		c.Limits.MaxTotalPositions = 6
	}
	if c.Limits.MaxPerSymbol == 0 {
		c.Limits.MaxPerSymbol = 4
	}
	if c.Cooldown == 0 {
		c.Cooldown = 120
	}
	if c.StopMult == 0 {
		c.StopMult = 2.0
	}
	if c.Trailing.Mode == "" {
		c.Trailing.Mode = "atr"
	}
	if c.Trailing.ATRK == 0 {
		c.Trailing.ATRK = 2.0
	}
	if c.Trailing.EMAKey == "" {
		c.Trailing.EMAKey = "ema_fast"
	}
	if c.Trailing.EMAK == 0 {
		c.Trailing.EMAK = 1.0
	}
	if c.Trailing.Percent == 0 {
		c.Trailing.Percent = 0.6
	}
	if c.Trailing.MinStepATR == 0 {
		c.Trailing.MinStepATR = 0.5
	}
	if c.DCA.MinADXIncrease == 0 {
		c.DCA.MinADXIncrease = 2.0
	}
	if c.DCA.EMAPullbackATR == 0 {
		c.DCA.EMAPullbackATR = 0.5
	}
	if c.DCA.PctScalePerAdd == 0 {
		c.DCA.PctScalePerAdd = 0.5
	}
	if c.OrderSizes.RiskPct == 0 {
		c.OrderSizes.RiskPct = 0.005
	}
	if c.OrderSizes.DefaultPct == 0 {
		c.OrderSizes.DefaultPct = 0.30
	}
	if c.OrderSizes.MinPct == 0 {
		c.OrderSizes.MinPct = 0.10
	}
	if c.OrderSizes.MaxPct == 0 {
		c.OrderSizes.MaxPct = 1.00
	}
	if c.Leverage.Min == 0 {
		c.Leverage.Min = 1
	}
	if c.Leverage.Default == 0 {
		c.Leverage.Default = 5
	}
	if c.Leverage.Max == 0 {
		c.Leverage.Max = 10
	}
	if c.Correlation.SameSideMaxExposureRatio == 0 {
		c.Correlation.SameSideMaxExposureRatio = 0.6
	}
	if c.FundingWindow.WindowMinutes == 0 {
		c.FundingWindow.WindowMinutes = 30
	}
	if c.FundingWindow.MinAbsBps == 0 {
		c.FundingWindow.MinAbsBps = 100
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = "data/state.json"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/events.sqlite"
	}
	if c.Storage.LogDir == "" {
		c.Storage.LogDir = "logs"
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Symbols) == 0 {
		add("symbols: at least one symbol is required")
	}
	for i, sym := range c.Symbols {
		if sym == "" {
			add("symbols[%d]: empty symbol", i)
		}
	}
	if c.Mode != "paper" && c.Mode != "live" {
		add("mode: must be \"paper\" or \"live\", got %q", c.Mode)
	}
	if c.Mode == "live" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		add("exchange: BYBIT_API_KEY and BYBIT_API_SECRET must be set for live mode")
	}
	if c.InitialEquity <= 0 {
		add("initial_equity: must be positive, got %g", c.InitialEquity)
	}
	if c.LoopSeconds < 1 {
		add("loop_seconds: must be >= 1, got %d", c.LoopSeconds)
	}
	if c.Fees.Taker < 0 || c.Fees.Taker > 0.01 {
		add("fees.taker: must be in [0, 0.01], got %g", c.Fees.Taker)
	}
	if c.Paper.SlippageBps < 0 || c.Paper.SlippageBps > 1000 {
		add("paper.slippage_bps: must be in [0, 1000], got %d", c.Paper.SlippageBps)
	}
	if c.Limits.MaxTotalPositions < 1 {
		add("limits.max_total_positions: must be >= 1, got %d", c.Limits.MaxTotalPositions)
	}
	if c.Limits.MaxPerSymbol < 1 {
		add("limits.max_per_symbol: must be >= 1, got %d", c.Limits.MaxPerSymbol)
	}
	if c.Limits.MaxPerSymbol > c.Limits.MaxTotalPositions {
		add("limits.max_per_symbol: %d exceeds max_total_positions %d", c.Limits.MaxPerSymbol, c.Limits.MaxTotalPositions)
	}
	if c.Cooldown < 0 {
		add("cooldown_seconds: must be >= 0, got %d", c.Cooldown)
	}
	if c.StopMult <= 0 {
		add("stop_mult: must be positive, got %g", c.StopMult)
	}
	switch c.Trailing.Mode {
	case "atr", "ema", "percent":
	default:
		add("trailing.mode: must be atr, ema or percent, got %q", c.Trailing.Mode)
	}
	if c.Trailing.EMAKey != "ema_fast" && c.Trailing.EMAKey != "ema_slow" {
		add("trailing.ema_key: must be ema_fast or ema_slow, got %q", c.Trailing.EMAKey)
	}
	if c.Trailing.Percent <= 0 || c.Trailing.Percent >= 100 {
		add("trailing.percent: must be in (0, 100), got %g", c.Trailing.Percent)
	}
	if c.OrderSizes.RiskPct <= 0 || c.OrderSizes.RiskPct > 0.1 {
		add("order_sizes.risk_pct: must be in (0, 0.1], got %g", c.OrderSizes.RiskPct)
	}
	if c.OrderSizes.MinPct <= 0 || c.OrderSizes.MinPct > c.OrderSizes.MaxPct {
		add("order_sizes.min_pct: must be positive and <= max_pct, got %g/%g", c.OrderSizes.MinPct, c.OrderSizes.MaxPct)
	}
	if c.OrderSizes.MaxPct > 1 {
		add("order_sizes.max_pct: must be <= 1, got %g", c.OrderSizes.MaxPct)
	}
	if c.OrderSizes.DefaultPct <= 0 || c.OrderSizes.DefaultPct > 1 {
		add("order_sizes.default_pct: must be in (0, 1], got %g", c.OrderSizes.DefaultPct)
	}
	if c.Leverage.Min < 1 {
		add("leverage.min: must be >= 1, got %d", c.Leverage.Min)
	}
	if c.Leverage.Default < c.Leverage.Min || c.Leverage.Default > c.Leverage.Max {
		add("leverage.default: must be in [min, max], got %d not in [%d, %d]", c.Leverage.Default, c.Leverage.Min, c.Leverage.Max)
	}
	if c.Leverage.Max > 100 {
		add("leverage.max: must be <= 100, got %d", c.Leverage.Max)
	}
	if c.Correlation.Enabled {
		if len(c.Correlation.Clusters) == 0 {
			add("correlation_guard.clusters: required when the guard is enabled")
		}
		if c.Correlation.SameSideMaxExposureRatio <= 0 || c.Correlation.SameSideMaxExposureRatio > 1 {
			add("correlation_guard.same_side_max_exposure_ratio: must be in (0, 1], got %g", c.Correlation.SameSideMaxExposureRatio)
		}
	}
	if c.FundingWindow.Enabled && c.FundingWindow.WindowMinutes < 1 {
		add("funding_window.window_minutes: must be >= 1, got %d", c.FundingWindow.WindowMinutes)
	}
	for _, pct := range []struct {
		name string
		v    float64
	}{
		{"circuit_breakers.max_daily_loss_pct", c.Breakers.MaxDailyLossPct},
		{"circuit_breakers.max_weekly_loss_pct", c.Breakers.MaxWeeklyLossPct},
		{"circuit_breakers.max_global_loss_pct", c.Breakers.MaxGlobalLossPct},
	} {
		if pct.v < 0 || pct.v > 1 {
			add("%s: must be in [0, 1], got %g", pct.name, pct.v)
		}
	}
	if c.Notifications.Enabled && (c.Notifications.TelegramToken == "" || c.Notifications.TelegramChat == "") {
		add("notifications: telegram_token and telegram_chat required when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration (%d problems):\n  - %s", len(problems), strings.Join(problems, "\n  - "))
	}
	return nil
}

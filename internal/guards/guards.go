package guards

import (
	"fmt"
	"time"

	"github.com/quantfleet/perp-engine/internal/ledger"
)

// Rejection reason codes. A rejection is a normal control-flow outcome, not
// an error; the code is recorded for diagnostics.
const (
	ReasonMaxTotal        = "REJECT_MAX_TOTAL"
	ReasonMaxPerSymbol    = "REJECT_MAX_PER_SYMBOL"
	ReasonNoHedge         = "REJECT_NO_HEDGE"
	ReasonMaxPortfLev     = "REJECT_MAX_PORTF_LEV"
	ReasonMaxPortfMargin  = "REJECT_MAX_PORTF_MARGIN"
	ReasonCorrExposure    = "REJECT_CORR_EXPOSURE"
	ReasonFundingWindow   = "REJECT_FUNDING_WINDOW"
)

// Decision is the outcome of an admission guard. Allowed decisions carry an
// empty reason; rejections carry the reason code of the failing guard.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the accepting decision.
var Allow = Decision{Allowed: true}

// Reject builds a rejecting decision with the given reason code.
func Reject(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Limits are the capacity limits in force for the current tick. They are
// derived from the configured base limits by the risk band controller.
type Limits struct {
	MaxTotalPositions int
	MaxPerSymbol      int
	NoHedge           bool
}

// PortfolioCaps bound aggregate exposure relative to equity. Zero values
// disable the corresponding cap.
type PortfolioCaps struct {
	MaxPortfolioLeverage  float64
	MaxPortfolioMarginPct float64
}

// CorrelationConfig bounds same-side exposure within configured symbol
// clusters.
type CorrelationConfig struct {
	Enabled                  bool
	Clusters                 [][]string
	SameSideMaxExposureRatio float64
}

// FundingConfig rejects entries close to a funding settlement when the rate
// is extreme.
type FundingConfig struct {
	Enabled       bool
	WindowMinutes int
	MinAbsBps     float64
}

// CanOpen checks capacity: total lots, per-symbol lots and the no-hedge
// policy. Pure function of its inputs.
func CanOpen(symbol string, side ledger.Side, book map[string][]ledger.Lot, lim Limits) Decision {
	total := 0
	for _, lots := range book {
		total += len(lots)
	}
	if total >= lim.MaxTotalPositions {
		return Reject(ReasonMaxTotal)
	}
	if len(book[symbol]) >= lim.MaxPerSymbol {
		return Reject(ReasonMaxPerSymbol)
	}
	if lim.NoHedge {
		for _, lot := range book[symbol] {
			if lot.Side != side {
				return Reject(ReasonNoHedge)
			}
		}
	}
	return Allow
}

// PortfolioCapsOK checks aggregate portfolio leverage and margin ratio
// against their ceilings. Symbols without a known price contribute nothing.
func PortfolioCapsOK(equity float64, book map[string][]ledger.Lot, prices map[string]float64, caps PortfolioCaps) Decision {
	if equity <= 0 {
		// No equity means no headroom for either cap.
		if caps.MaxPortfolioLeverage > 0 || caps.MaxPortfolioMarginPct > 0 {
			return Reject(ReasonMaxPortfLev)
		}
		return Allow
	}
	notionalTotal := 0.0
	marginTotal := 0.0
	for sym, lots := range book {
		p := prices[sym]
		if p <= 0 {
			continue
		}
		for _, lot := range lots {
			notional := abs(lot.Qty) * p
			notionalTotal += notional
			lev := lot.Leverage
			if lev < 1 {
				lev = 1
			}
			marginTotal += notional / float64(lev)
		}
	}
	if caps.MaxPortfolioLeverage > 0 && notionalTotal/equity > caps.MaxPortfolioLeverage {
		return Reject(ReasonMaxPortfLev)
	}
	if caps.MaxPortfolioMarginPct > 0 && marginTotal/equity > caps.MaxPortfolioMarginPct {
		return Reject(ReasonMaxPortfMargin)
	}
	return Allow
}

// ClusterExposureOK rejects when same-side notional within the symbol's
// configured cluster exceeds the allowed share of total open notional.
func ClusterExposureOK(symbol string, side ledger.Side, book map[string][]ledger.Lot, prices map[string]float64, cfg CorrelationConfig) Decision {
	if !cfg.Enabled {
		return Allow
	}
	totalNotional := 0.0
	for sym, lots := range book {
		p := prices[sym]
		if p <= 0 {
			continue
		}
		for _, lot := range lots {
			totalNotional += abs(lot.Qty) * p
		}
	}
	if totalNotional <= 0 {
		return Allow
	}
	var cluster []string
	for _, cl := range cfg.Clusters {
		for _, sym := range cl {
			if sym == symbol {
				cluster = cl
				break
			}
		}
		if cluster != nil {
			break
		}
	}
	if cluster == nil {
		return Allow
	}
	clusterSame := 0.0
	for _, sym := range cluster {
		p := prices[sym]
		if p <= 0 {
			continue
		}
		for _, lot := range book[sym] {
			if lot.Side == side {
				clusterSame += abs(lot.Qty) * p
			}
		}
	}
	if clusterSame/totalNotional > cfg.SameSideMaxExposureRatio {
		return Reject(ReasonCorrExposure)
	}
	return Allow
}

// FundingWindowOK rejects when the annualized funding rate magnitude is at
// or above the threshold and the next settlement (00/08/16 UTC) is within
// the configured window.
func FundingWindowOK(fundingBps float64, now time.Time, cfg FundingConfig) Decision {
	if !cfg.Enabled {
		return Allow
	}
	if abs(fundingBps) < cfg.MinAbsBps {
		return Allow
	}
	if untilNextSettlement(now) <= time.Duration(cfg.WindowMinutes)*time.Minute {
		return Reject(ReasonFundingWindow)
	}
	return Allow
}

// untilNextSettlement returns the time remaining until the next funding
// settlement at 00:00, 08:00 or 16:00 UTC.
func untilNextSettlement(now time.Time) time.Duration {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, h := range []int{0, 8, 16, 24} {
		t := day.Add(time.Duration(h) * time.Hour)
		if !t.Before(now) {
			return t.Sub(now)
		}
	}
	return day.Add(24 * time.Hour).Sub(now)
}

// Input bundles everything a full admission evaluation needs.
type Input struct {
	Symbol     string
	Side       ledger.Side
	Equity     float64
	Book       map[string][]ledger.Lot
	Prices     map[string]float64
	Now        time.Time
	FundingBps float64

	Limits      Limits
	Caps        PortfolioCaps
	Correlation CorrelationConfig
	Funding     FundingConfig
}

// Evaluate runs all four admission guards in order and short-circuits on
// the first rejection. An un-evaluable input is returned as an error, which
// callers must treat as a rejection (fail closed), never as acceptance.
func Evaluate(in Input) (Decision, error) {
	if in.Symbol == "" {
		return Decision{}, fmt.Errorf("guards: empty symbol")
	}
	if in.Side != ledger.SideLong && in.Side != ledger.SideShort {
		return Decision{}, fmt.Errorf("guards: non-directional side %q", in.Side)
	}
	if d := CanOpen(in.Symbol, in.Side, in.Book, in.Limits); !d.Allowed {
		return d, nil
	}
	if d := PortfolioCapsOK(in.Equity, in.Book, in.Prices, in.Caps); !d.Allowed {
		return d, nil
	}
	if d := ClusterExposureOK(in.Symbol, in.Side, in.Book, in.Prices, in.Correlation); !d.Allowed {
		return d, nil
	}
	if d := FundingWindowOK(in.FundingBps, in.Now, in.Funding); !d.Allowed {
		return d, nil
	}
	return Allow, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package safety implements loss circuit breakers that trip the killswitch
// when realized losses over a window exceed a fraction of equity.
package safety

import (
	"fmt"
	"time"
)

// BreakerConfig defines the loss limits. A zero limit disables that window.
// Limits are fractions of current equity, e.g. 0.05 = 5%.
type BreakerConfig struct {
	MaxDailyLossPct  float64
	MaxWeeklyLossPct float64
	MaxGlobalLossPct float64
}

// Configured reports whether any breaker window is active.
func (c BreakerConfig) Configured() bool {
	return c.MaxDailyLossPct > 0 || c.MaxWeeklyLossPct > 0 || c.MaxGlobalLossPct > 0
}

// PnLSource supplies realized pnl over a trailing window. Backed by the
// trade event store in production.
type PnLSource interface {
	RealizedPnLSince(cutoff time.Time) (float64, error)
}

// Verdict is the outcome of a breaker sweep.
type Verdict struct {
	Tripped bool
	Reason  string
}

// BreakerSet evaluates the configured loss breakers.
type BreakerSet struct {
	cfg    BreakerConfig
	source PnLSource
}

// NewBreakerSet creates a breaker set over the given pnl source.
func NewBreakerSet(cfg BreakerConfig, source PnLSource) *BreakerSet {
	return &BreakerSet{cfg: cfg, source: source}
}

// Check evaluates every configured breaker. With nothing configured the
// verdict is trivially clean. When a configured breaker cannot be evaluated
// the error is returned and the caller must treat the tick as tripped
// (fail closed): a breaker that cannot see losses must not wave trades
// through.
func (b *BreakerSet) Check(now time.Time, equity float64) (Verdict, error) {
	if !b.cfg.Configured() {
		return Verdict{}, nil
	}
	if equity <= 0 {
		return Verdict{Tripped: true, Reason: "non-positive equity"}, nil
	}

	type window struct {
		name   string
		cutoff time.Time
		limit  float64
	}
	windows := []window{
		{"daily", now.Add(-24 * time.Hour), b.cfg.MaxDailyLossPct},
		{"weekly", now.Add(-7 * 24 * time.Hour), b.cfg.MaxWeeklyLossPct},
		{"global", time.Time{}, b.cfg.MaxGlobalLossPct},
	}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		pnl, err := b.source.RealizedPnLSince(w.cutoff)
		if err != nil {
			return Verdict{}, fmt.Errorf("safety: %s breaker: %w", w.name, err)
		}
		if pnl < 0 && -pnl >= w.limit*equity {
			return Verdict{
				Tripped: true,
				Reason:  fmt.Sprintf("%s loss %.2f exceeds %.1f%% of equity %.2f", w.name, -pnl, w.limit*100, equity),
			}, nil
		}
	}
	return Verdict{}, nil
}

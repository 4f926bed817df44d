package risk

import (
	"time"

	"github.com/quantfleet/perp-engine/internal/guards"
)

// Band identifies the drawdown band in force.
type Band string

const (
	BandNone Band = "none"
	BandDD2  Band = "dd2"
	BandDD4  Band = "dd4"
	BandDD6  Band = "dd6"
)

// BandState is the full risk posture derived from current drawdown. All
// fields are absolute values for the tick, computed from the configured base
// values, never deltas the caller has to apply.
type BandState struct {
	Band         Band
	Drawdown     float64 // signed, eq/peak - 1, <= 0 in drawdown
	Limits       guards.Limits
	Cooldown     time.Duration
	StopMult     float64
	AllowEntries bool
}

// BaseParams are the configured steady-state values the bands tighten from.
type BaseParams struct {
	Limits   guards.Limits
	Cooldown time.Duration
	StopMult float64
}

// ComputeBand maps equity drawdown from peak onto a risk posture. Deeper
// bands only ever tighten: fewer slots, longer cooldown, wider stops, and at
// 6% drawdown a full entry freeze. Pure function, no hysteresis; the band is
// recomputed from scratch every tick so recovery relaxes limits immediately.
func ComputeBand(equity, peak float64, base BaseParams) BandState {
	dd := 0.0
	if peak > 0 {
		dd = (equity - peak) / peak
	}
	st := BandState{
		Band:         BandNone,
		Drawdown:     dd,
		Limits:       base.Limits,
		Cooldown:     base.Cooldown,
		StopMult:     base.StopMult,
		AllowEntries: true,
	}
	switch {
	case dd <= -0.06:
		st.Band = BandDD6
		st.AllowEntries = false
		st.Limits.MaxTotalPositions = maxInt(1, base.Limits.MaxTotalPositions-3)
		st.Limits.MaxPerSymbol = maxInt(1, base.Limits.MaxPerSymbol-2)
		st.Cooldown = base.Cooldown + 300*time.Second
		st.StopMult = base.StopMult + 0.50
	case dd <= -0.04:
		st.Band = BandDD4
		st.Limits.MaxTotalPositions = 3
		st.Limits.MaxPerSymbol = 2
		st.Cooldown = base.Cooldown + 300*time.Second
		st.StopMult = base.StopMult + 0.50
	case dd <= -0.02:
		st.Band = BandDD2
		st.Limits.MaxTotalPositions = 4
		st.Limits.MaxPerSymbol = 3
		st.Cooldown = base.Cooldown + 120*time.Second
		st.StopMult = base.StopMult + 0.25
	}
	return st
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfleet/perp-engine/internal/guards"
)

func baseParams() BaseParams {
	return BaseParams{
		Limits:   guards.Limits{MaxTotalPositions: 6, MaxPerSymbol: 4, NoHedge: true},
		Cooldown: 120 * time.Second,
		StopMult: 2.0,
	}
}

func TestComputeBandNone(t *testing.T) {
	st := ComputeBand(1000, 1000, baseParams())
	assert.Equal(t, BandNone, st.Band)
	assert.True(t, st.AllowEntries)
	assert.Equal(t, 6, st.Limits.MaxTotalPositions)
	assert.Equal(t, 120*time.Second, st.Cooldown)
	assert.InDelta(t, 2.0, st.StopMult, 1e-12)
}

func TestComputeBandDD2(t *testing.T) {
	st := ComputeBand(975, 1000, baseParams())
	assert.Equal(t, BandDD2, st.Band)
	assert.True(t, st.AllowEntries)
	assert.Equal(t, 4, st.Limits.MaxTotalPositions)
	assert.Equal(t, 3, st.Limits.MaxPerSymbol)
	assert.Equal(t, 240*time.Second, st.Cooldown)
	assert.InDelta(t, 2.25, st.StopMult, 1e-12)
}

func TestComputeBandDD4(t *testing.T) {
	st := ComputeBand(955, 1000, baseParams())
	assert.Equal(t, BandDD4, st.Band)
	assert.True(t, st.AllowEntries)
	assert.Equal(t, 3, st.Limits.MaxTotalPositions)
	assert.Equal(t, 2, st.Limits.MaxPerSymbol)
	assert.Equal(t, 420*time.Second, st.Cooldown)
	assert.InDelta(t, 2.5, st.StopMult, 1e-12)
}

func TestComputeBandDD6FreezesEntries(t *testing.T) {
	st := ComputeBand(940, 1000, baseParams())
	assert.Equal(t, BandDD6, st.Band)
	assert.False(t, st.AllowEntries)
	assert.Equal(t, 3, st.Limits.MaxTotalPositions, "base 6 - 3")
	assert.Equal(t, 2, st.Limits.MaxPerSymbol, "base 4 - 2")
	assert.Equal(t, 420*time.Second, st.Cooldown)
	assert.InDelta(t, 2.5, st.StopMult, 1e-12)
}

func TestComputeBandDD6FloorsAtOne(t *testing.T) {
	base := baseParams()
	base.Limits.MaxTotalPositions = 2
	base.Limits.MaxPerSymbol = 1
	st := ComputeBand(900, 1000, base)
	assert.Equal(t, 1, st.Limits.MaxTotalPositions)
	assert.Equal(t, 1, st.Limits.MaxPerSymbol)
}

func TestComputeBandZeroPeak(t *testing.T) {
	st := ComputeBand(0, 0, baseParams())
	assert.Equal(t, BandNone, st.Band)
	assert.Zero(t, st.Drawdown)
}

func TestComputeBandRecoveryRelaxesImmediately(t *testing.T) {
	base := baseParams()
	deep := ComputeBand(940, 1000, base)
	assert.False(t, deep.AllowEntries)

	recovered := ComputeBand(995, 1000, base)
	assert.Equal(t, BandNone, recovered.Band)
	assert.True(t, recovered.AllowEntries)
	assert.Equal(t, base.Limits, recovered.Limits)
}

package safety

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	pnl float64
	err error
}

func (s *stubSource) RealizedPnLSince(cutoff time.Time) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.pnl, nil
}

func TestUnconfiguredBreakersPassTrivially(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{}, &stubSource{err: errors.New("source down")})
	v, err := b.Check(time.Now(), 1000)
	require.NoError(t, err, "nothing configured, source never consulted")
	assert.False(t, v.Tripped)
}

func TestDailyBreakerTrips(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{MaxDailyLossPct: 0.05}, &stubSource{pnl: -60})
	v, err := b.Check(time.Now(), 1000)
	require.NoError(t, err)
	assert.True(t, v.Tripped, "loss 60 >= 5% of 1000")
	assert.Contains(t, v.Reason, "daily")
}

func TestBreakerUnderLimitStaysClean(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{MaxDailyLossPct: 0.05}, &stubSource{pnl: -40})
	v, err := b.Check(time.Now(), 1000)
	require.NoError(t, err)
	assert.False(t, v.Tripped)
}

func TestProfitNeverTrips(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{MaxDailyLossPct: 0.01, MaxGlobalLossPct: 0.01}, &stubSource{pnl: 500})
	v, err := b.Check(time.Now(), 1000)
	require.NoError(t, err)
	assert.False(t, v.Tripped)
}

func TestConfiguredBreakerSourceErrorSurfaces(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{MaxWeeklyLossPct: 0.1}, &stubSource{err: errors.New("db locked")})
	_, err := b.Check(time.Now(), 1000)
	require.Error(t, err, "caller must fail closed on an un-evaluable breaker")
}

func TestNonPositiveEquityTrips(t *testing.T) {
	b := NewBreakerSet(BreakerConfig{MaxDailyLossPct: 0.05}, &stubSource{pnl: 0})
	v, err := b.Check(time.Now(), 0)
	require.NoError(t, err)
	assert.True(t, v.Tripped)
}

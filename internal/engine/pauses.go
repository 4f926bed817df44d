package engine

import (
	"strings"
	"time"
)

// refreshPauses recomputes the learning-layer pauses from recent closed
// trades. A (symbol, layer) pair with enough history, a losing expectancy
// and a profit factor under 0.9 is paused for a day.
func (e *Engine) refreshPauses(now time.Time) {
	stats, err := e.sink.RecentCloses(600)
	if err != nil {
		e.log.LogError("learning pauses", err)
		return
	}
	for _, st := range stats {
		if st.N < 20 {
			continue
		}
		if st.Expectancy() >= 0 || st.ProfitFactor() >= 0.9 {
			continue
		}
		key := layerKey{Symbol: st.Symbol, Layer: st.Layer}
		until := now.Add(pauseDuration)
		if e.pauses[key].Before(until) {
			e.pauses[key] = until
			e.log.Risk("pausing %s layer for %s until %s (n=%d pf=%.2f exp=%.4f)",
				st.Layer, st.Symbol, until.Format(time.RFC3339), st.N, st.ProfitFactor(), st.Expectancy())
		}
	}
}

// layerPaused reports whether the regime's learning layer is currently
// paused for the symbol. Regimes outside the trend/range layers never pause.
func (e *Engine) layerPaused(sym, regime string, now time.Time) bool {
	layer := layerForRegime(regime)
	if layer == "" {
		return false
	}
	until, ok := e.pauses[layerKey{Symbol: sym, Layer: layer}]
	return ok && now.Before(until)
}

func layerForRegime(regime string) string {
	regime = strings.ToLower(regime)
	if regime == "" {
		return ""
	}
	if strings.Contains(regime, "trend") {
		return "trend"
	}
	if regime == "range" || regime == "chop" {
		return "range"
	}
	return ""
}

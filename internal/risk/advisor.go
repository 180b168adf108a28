// Package risk selects a stop-sizing profile from market observations.
package risk

import (
	"fmt"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// BalancedAdvisor always recommends the balanced profile. It is the default
// when no observation-driven advisor is configured.
type BalancedAdvisor struct{}

// Profile returns 1 for any observation.
func (BalancedAdvisor) Profile([5]float64) (int, error) {
	return 1, nil
}

// ThresholdAdvisor maps the observation vector
// [rsi/100, atrPct/5, bbWidth/10, adx/100, drawdown] to a profile with fixed
// cutoffs: heavy drawdown or elevated volatility demotes to conservative, a
// strong trend in calm conditions promotes to aggressive.
type ThresholdAdvisor struct {
	// MaxDrawdown is the drawdown fraction above which the advisor always
	// picks the conservative profile. Zero means 0.03.
	MaxDrawdown float64

	// HighVol is the normalized ATR (atrPct/5) above which the advisor
	// refuses the aggressive profile. Zero means 0.4.
	HighVol float64

	// StrongTrend is the normalized ADX (adx/100) above which calm markets
	// get the aggressive profile. Zero means 0.3.
	StrongTrend float64
}

// Profile classifies the observation. Out-of-range observations are an error
// so the caller falls back to the balanced profile.
func (a ThresholdAdvisor) Profile(obs [5]float64) (int, error) {
	for i, v := range obs {
		if v < 0 || v > 1.5 {
			return 1, fmt.Errorf("risk: observation %d out of range: %v", i, v)
		}
	}

	maxDD := a.MaxDrawdown
	if maxDD <= 0 {
		maxDD = 0.03
	}
	highVol := a.HighVol
	if highVol <= 0 {
		highVol = 0.4
	}
	strongTrend := a.StrongTrend
	if strongTrend <= 0 {
		strongTrend = 0.3
	}

	atr, adx, drawdown := obs[1], obs[3], obs[4]
	switch {
	case drawdown >= maxDD || atr >= highVol:
		return 0, nil
	case adx >= strongTrend:
		return 2, nil
	default:
		return 1, nil
	}
}

// Compile-time interface checks.
var (
	_ domain.RiskAdvisor = BalancedAdvisor{}
	_ domain.RiskAdvisor = ThresholdAdvisor{}
)

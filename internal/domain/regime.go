package domain

// Regime is the coarse market classification used to gate entries.
type Regime string

const (
	RegimeBull     Regime = "BULL"
	RegimeBear     Regime = "BEAR"
	RegimeSideways Regime = "SIDEWAYS"
	RegimeUnknown  Regime = "UNKNOWN"
)

// RegimeDetector classifies the market regime from recent bars. It is a pure
// advisory function; the orchestrator owns the mutual exclusion between
// Detect readers and the slow Retrain writer.
type RegimeDetector interface {
	// Detect returns the regime label and a strength in [0,1].
	Detect(bars []Bar) (Regime, float64)

	// Retrain recalibrates the detector from a longer history. It may be
	// slow and must only be called under the orchestrator's regime guard.
	Retrain(bars []Bar) error
}

// RiskAdvisor selects a risk profile from a fixed-shape observation vector
// [rsi/100, atrPct/5, bbWidth/10, adx/100, drawdown]. Profiles map to
// stop-distance multipliers: 0=conservative (1.0x ATR), 1=balanced (1.5x),
// 2=aggressive (2.0x). Callers fall back to profile 1 on error.
type RiskAdvisor interface {
	Profile(obs [5]float64) (int, error)
}

// StopMultiplier maps a risk profile to its ATR stop-distance multiplier.
// Unknown profiles get the balanced multiplier.
func StopMultiplier(profile int) float64 {
	switch profile {
	case 0:
		return 1.0
	case 2:
		return 2.0
	default:
		return 1.5
	}
}

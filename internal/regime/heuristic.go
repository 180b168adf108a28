// Package regime classifies the market as trending or ranging from recent
// bars. The classification gates entries: no buying into a bear trend, no
// selling into a bull trend.
package regime

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Config tunes the heuristic classifier.
type Config struct {
	// ShortWindow and LongWindow are the SMA lengths compared for trend
	// direction.
	ShortWindow int
	LongWindow  int

	// TrendThreshold is the minimum relative gap between the short and long
	// SMA for the market to count as trending. Retrain recalibrates it.
	TrendThreshold float64
}

func (c *Config) fillDefaults() {
	if c.ShortWindow <= 0 {
		c.ShortWindow = 20
	}
	if c.LongWindow <= c.ShortWindow {
		c.LongWindow = 50
	}
	if c.TrendThreshold <= 0 {
		c.TrendThreshold = 0.003
	}
}

// minTrendThreshold floors recalibration so a flat calibration window cannot
// make every tiny wiggle look like a trend.
const minTrendThreshold = 0.0005

// Heuristic implements domain.RegimeDetector with a short/long SMA crossover
// plus a realized-volatility check. It holds no lock: the orchestrator
// serializes Retrain against Detect.
type Heuristic struct {
	cfg    Config
	logger *slog.Logger
}

// NewHeuristic creates a detector with the given configuration.
func NewHeuristic(cfg Config, logger *slog.Logger) *Heuristic {
	cfg.fillDefaults()
	return &Heuristic{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "regime")),
	}
}

// Detect classifies the most recent bars. It returns UNKNOWN with zero
// strength until LongWindow bars have accumulated.
func (h *Heuristic) Detect(bars []domain.Bar) (domain.Regime, float64) {
	if len(bars) < h.cfg.LongWindow {
		return domain.RegimeUnknown, 0
	}

	short := sma(bars, h.cfg.ShortWindow)
	long := sma(bars, h.cfg.LongWindow)
	if long <= 0 {
		return domain.RegimeUnknown, 0
	}

	gap := (short - long) / long
	if math.Abs(gap) < h.cfg.TrendThreshold {
		// Strength grows as the SMAs converge.
		return domain.RegimeSideways, 1 - math.Abs(gap)/h.cfg.TrendThreshold
	}

	strength := math.Min(math.Abs(gap)/(3*h.cfg.TrendThreshold), 1)
	if gap > 0 {
		return domain.RegimeBull, strength
	}
	return domain.RegimeBear, strength
}

// Retrain recalibrates TrendThreshold from the gap distribution over the
// history: the new threshold is the 60th percentile of observed absolute
// SMA gaps, floored at minTrendThreshold. The caller holds the regime write
// lock.
func (h *Heuristic) Retrain(bars []domain.Bar) error {
	if len(bars) < 2*h.cfg.LongWindow {
		return fmt.Errorf("regime: retrain needs %d bars, have %d", 2*h.cfg.LongWindow, len(bars))
	}

	gaps := make([]float64, 0, len(bars)-h.cfg.LongWindow)
	for end := h.cfg.LongWindow; end <= len(bars); end++ {
		window := bars[:end]
		short := sma(window, h.cfg.ShortWindow)
		long := sma(window, h.cfg.LongWindow)
		if long <= 0 {
			continue
		}
		gaps = append(gaps, math.Abs((short-long)/long))
	}
	if len(gaps) == 0 {
		return fmt.Errorf("regime: no usable calibration windows in %d bars", len(bars))
	}

	sort.Float64s(gaps)
	threshold := gaps[len(gaps)*60/100]
	if threshold < minTrendThreshold {
		threshold = minTrendThreshold
	}

	h.logger.Info("regime thresholds recalibrated",
		slog.Float64("old_threshold", h.cfg.TrendThreshold),
		slog.Float64("new_threshold", threshold),
		slog.Int("bars", len(bars)))
	h.cfg.TrendThreshold = threshold
	return nil
}

// sma averages the closes of the last n bars.
func sma(bars []domain.Bar, n int) float64 {
	if n > len(bars) {
		n = len(bars)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return sum / float64(n)
}

// Package flow derives order-flow imbalance signals from top-of-book updates.
//
// The OFI construction follows Cont, Kukanov and Stoikov: each best-quote
// change contributes signed size depending on how the price moved, and the
// per-update contributions are z-scored against a rolling history to flag
// unusually one-sided flow.
package flow

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Config holds the analyzer tuning parameters.
type Config struct {
	HistorySize int     // rolling OFI window, default 100
	MinSamples  int     // samples required before z-scores, default 20
	ZThreshold  float64 // |z| needed to emit a signal, default 1.5
	StrongZ     float64 // z normalizer for VWAP-aligned entries, default 3
	MomentumZ   float64 // z normalizer for momentum entries, default 4
	StopPct     float64 // default stop distance, percent of entry
	TargetPct   float64 // default target distance, percent of entry
}

func (c *Config) fillDefaults() {
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = 1.5
	}
	if c.StrongZ <= 0 {
		c.StrongZ = 3.0
	}
	if c.MomentumZ <= 0 {
		c.MomentumZ = 4.0
	}
	if c.StopPct <= 0 {
		c.StopPct = 0.5
	}
	if c.TargetPct <= 0 {
		c.TargetPct = 1.0
	}
}

// flowState tracks the previous best quotes and the OFI history for one
// symbol.
type flowState struct {
	primed   bool
	bidPrice float64
	bidSize  float64
	askPrice float64
	askSize  float64
	history  []float64
}

// Analyzer is the stateful per-symbol order-flow analyzer. Safe for
// concurrent use.
type Analyzer struct {
	mu     sync.Mutex
	states map[string]*flowState
	cfg    Config
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer. Zero config fields take defaults.
func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	cfg.fillDefaults()
	return &Analyzer{
		states: make(map[string]*flowState),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "flow_analyzer")),
	}
}

// Update ingests a book snapshot and returns the order-flow imbalance for
// the transition from the previous snapshot. The first observation for a
// symbol (and the first after Reset) primes the state and returns 0.
// Invalid snapshots return 0 and leave state untouched.
func (a *Analyzer) Update(snap domain.BookSnapshot) float64 {
	if !snap.Valid() {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[snap.Symbol]
	if !ok || !st.primed {
		a.states[snap.Symbol] = &flowState{
			primed:   true,
			bidPrice: snap.BidPrice,
			bidSize:  snap.BidSize,
			askPrice: snap.AskPrice,
			askSize:  snap.AskSize,
		}
		return 0
	}

	// Bid contribution: a rising bid adds the full new size, a falling bid
	// removes the full old size, an unchanged bid contributes the size delta.
	var eN float64
	switch {
	case snap.BidPrice > st.bidPrice:
		eN = snap.BidSize
	case snap.BidPrice < st.bidPrice:
		eN = -st.bidSize
	default:
		eN = snap.BidSize - st.bidSize
	}

	// Ask contribution mirrors the bid with the sign convention reversed: a
	// falling ask is aggressive selling.
	var eM float64
	switch {
	case snap.AskPrice < st.askPrice:
		eM = snap.AskSize
	case snap.AskPrice > st.askPrice:
		eM = -st.askSize
	default:
		eM = snap.AskSize - st.askSize
	}

	ofi := eN - eM

	st.bidPrice = snap.BidPrice
	st.bidSize = snap.BidSize
	st.askPrice = snap.AskPrice
	st.askSize = snap.AskSize

	st.history = append(st.history, ofi)
	if len(st.history) > a.cfg.HistorySize {
		st.history = st.history[len(st.history)-a.cfg.HistorySize:]
	}

	return ofi
}

// ZScore standardizes ofi against the symbol's rolling history. Returns 0
// until the history holds at least MinSamples values, and 0 when the history
// has no variance.
func (a *Analyzer) ZScore(symbol string, ofi float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[symbol]
	if !ok || len(st.history) < a.cfg.MinSamples {
		return 0
	}

	var sum float64
	for _, v := range st.history {
		sum += v
	}
	mean := sum / float64(len(st.history))

	var variance float64
	for _, v := range st.history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(st.history))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (ofi - mean) / std
}

// Classify turns an OFI observation into a trade signal. Positive z-scores
// beyond the threshold read as aggressive buying; the signal is strongest when
// price still trades below VWAP (mean-reversion entry with flow confirmation)
// and weaker when it is a pure momentum read. Below the threshold the signal
// direction is NONE with zero strength.
func (a *Analyzer) Classify(symbol string, ofi, price, vwap float64) domain.Signal {
	z := a.ZScore(symbol, ofi)

	sig := domain.Signal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Direction: domain.DirectionNone,
		Entry:     price,
		Features: map[string]float64{
			"ofi":    ofi,
			"zscore": z,
			"vwap":   vwap,
			"price":  price,
		},
		CreatedAt: time.Now().UTC(),
	}

	abs := math.Abs(z)
	switch {
	case z > a.cfg.ZThreshold:
		sig.Direction = domain.DirectionBuy
		if price < vwap {
			sig.Strength = math.Min(abs/a.cfg.StrongZ, 1.0)
			sig.Reason = fmt.Sprintf("buy flow z=%.2f below vwap", z)
		} else {
			sig.Strength = math.Min(abs/a.cfg.MomentumZ, 0.7)
			sig.Reason = fmt.Sprintf("buy flow z=%.2f momentum", z)
		}
		sig.Stop = price * (1 - a.cfg.StopPct/100)
		sig.Target = price * (1 + a.cfg.TargetPct/100)
	case z < -a.cfg.ZThreshold:
		sig.Direction = domain.DirectionSell
		if price > vwap {
			sig.Strength = math.Min(abs/a.cfg.StrongZ, 1.0)
			sig.Reason = fmt.Sprintf("sell flow z=%.2f above vwap", z)
		} else {
			sig.Strength = math.Min(abs/a.cfg.MomentumZ, 0.7)
			sig.Reason = fmt.Sprintf("sell flow z=%.2f momentum", z)
		}
		sig.Stop = price * (1 + a.cfg.StopPct/100)
		sig.Target = price * (1 - a.cfg.TargetPct/100)
	}

	return sig
}

// Reset drops all state for symbol. Must be called when the market-data
// stream reconnects: the first diff against a stale quote is meaningless.
func (a *Analyzer) Reset(symbol string) {
	a.mu.Lock()
	delete(a.states, symbol)
	a.mu.Unlock()
}

// ResetAll drops state for every symbol.
func (a *Analyzer) ResetAll() {
	a.mu.Lock()
	a.states = make(map[string]*flowState)
	a.mu.Unlock()
	a.logger.Debug("flow state reset")
}

// Package orchestrator wires the market-data flow to the execution and
// accounting layers: every top-of-book tick runs flow analysis, manages the
// open position on that symbol, and may open a new one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/flowtrader/flowtrader/internal/book"
	"github.com/flowtrader/flowtrader/internal/domain"
	"github.com/flowtrader/flowtrader/internal/exec"
	"github.com/flowtrader/flowtrader/internal/flow"
	"github.com/flowtrader/flowtrader/internal/ledger"
	"github.com/flowtrader/flowtrader/internal/notify"
)

// atrPeriod is the Wilder smoothing period for the ATR estimate.
const atrPeriod = 14

// Config tunes the trading loop.
type Config struct {
	Symbols []string

	// Cooldown is the minimum wait between entries on one symbol.
	Cooldown time.Duration

	// MinHold protects a fresh position from an immediate reversal exit.
	MinHold time.Duration

	// MaxHold is the age at which the time-exit scan closes a position.
	MaxHold time.Duration

	// TimeExitInterval is the scan period for MaxHold.
	TimeExitInterval time.Duration

	// MinStrength is the weakest signal that may open a position.
	MinStrength float64

	// MaxSpreadPct skips trading when the spread is wider, in percent of mid.
	MaxSpreadPct float64

	// ReversalZ is the minimum |z| for an opposing signal to force an exit.
	ReversalZ float64

	// RegimeEnabled turns the regime gate on.
	RegimeEnabled bool

	// BlockSideways additionally blocks entries in a sideways regime.
	BlockSideways bool

	// BarHistory bounds the per-symbol bar buffer.
	BarHistory int

	// RetrainInterval is the period of the regime recalibration timer.
	RetrainInterval time.Duration
}

func (c *Config) fillDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MinHold <= 0 {
		c.MinHold = 10 * time.Second
	}
	if c.MaxHold <= 0 {
		c.MaxHold = 5 * time.Minute
	}
	if c.TimeExitInterval <= 0 {
		c.TimeExitInterval = 10 * time.Second
	}
	if c.MinStrength <= 0 {
		c.MinStrength = 0.3
	}
	if c.MaxSpreadPct <= 0 {
		c.MaxSpreadPct = 0.1
	}
	if c.ReversalZ <= 0 {
		c.ReversalZ = 0.6
	}
	if c.BarHistory <= 0 {
		c.BarHistory = 200
	}
	if c.RetrainInterval <= 0 {
		c.RetrainInterval = 30 * time.Minute
	}
}

// Orchestrator owns the trading loop. Book and bar events arrive from the
// feed goroutine and timers run under Run, but evMu serializes them into a
// single logical event loop: at most one handler examines and mutates
// positions at a time, so a position can never receive two exit orders.
type Orchestrator struct {
	cfg      Config
	books    *book.Stream
	analyzer *flow.Analyzer
	vwap     *flow.VWAPTracker
	engine   *exec.Engine
	ledger   *ledger.Ledger
	broker   domain.BrokerClient
	detector domain.RegimeDetector
	advisor  domain.RiskAdvisor
	feed     domain.SignalFeed
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	// evMu is the event-loop lock: held for the whole of OnBook, OnBar,
	// timeExitScan, and EmergencyStop, including any chase they run.
	evMu sync.Mutex

	// regimeMu serializes detector retraining against classification reads.
	regimeMu sync.RWMutex

	barMu sync.Mutex
	bars  map[string][]domain.Bar
	atr   map[string]float64

	entryMu   sync.Mutex
	lastEntry map[string]time.Time

	stopOnce sync.Once
	stop     context.CancelFunc
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Books    *book.Stream
	Analyzer *flow.Analyzer
	VWAP     *flow.VWAPTracker
	Engine   *exec.Engine
	Ledger   *ledger.Ledger
	Broker   domain.BrokerClient
	Detector domain.RegimeDetector
	Advisor  domain.RiskAdvisor
	Feed     domain.SignalFeed
	Notifier *notify.Notifier
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	cfg.fillDefaults()
	return &Orchestrator{
		cfg:       cfg,
		books:     deps.Books,
		analyzer:  deps.Analyzer,
		vwap:      deps.VWAP,
		engine:    deps.Engine,
		ledger:    deps.Ledger,
		broker:    deps.Broker,
		detector:  deps.Detector,
		advisor:   deps.Advisor,
		feed:      deps.Feed,
		notifier:  deps.Notifier,
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
		bars:      make(map[string][]domain.Bar),
		atr:       make(map[string]float64),
		lastEntry: make(map[string]time.Time),
	}
}

// OnBook handles one top-of-book update. A panic or error on one symbol is
// logged and never takes the loop down.
func (o *Orchestrator) OnBook(ctx context.Context, snap domain.BookSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("book handler panic",
				slog.String("symbol", snap.Symbol),
				slog.Any("panic", r))
		}
	}()

	o.evMu.Lock()
	defer o.evMu.Unlock()

	o.books.Update(snap)
	if !snap.Valid() {
		return
	}

	ofi := o.analyzer.Update(snap)
	mid := snap.Mid()
	o.vwap.Observe(snap.Symbol, mid, snap.BidSize+snap.AskSize)
	sig := o.analyzer.Classify(snap.Symbol, ofi, mid, o.vwap.VWAP(snap.Symbol))

	if pos, open := o.ledger.Position(snap.Symbol); open {
		o.managePosition(ctx, pos, sig, mid)
		return
	}

	if flow.Spread(snap) > o.cfg.MaxSpreadPct {
		return
	}
	o.tryEnter(ctx, sig, mid)
}

// managePosition checks the reversal exit first, then stop and target.
func (o *Orchestrator) managePosition(ctx context.Context, pos domain.Position, sig domain.Signal, mid float64) {
	held := o.now().Sub(pos.EntryTime)
	z := math.Abs(sig.Features["zscore"])
	if sig.Direction != domain.DirectionNone &&
		sig.Direction != pos.Direction &&
		z >= o.cfg.ReversalZ &&
		held >= o.cfg.MinHold {
		o.closePosition(ctx, pos, mid, fmt.Sprintf("flow reversal z=%.2f", sig.Features["zscore"]))
		return
	}

	switch pos.Direction {
	case domain.DirectionBuy:
		if mid <= pos.StopLoss {
			o.closePosition(ctx, pos, mid, "stop loss")
		} else if mid >= pos.TakeProfit {
			o.closePosition(ctx, pos, mid, "take profit")
		}
	case domain.DirectionSell:
		if mid >= pos.StopLoss {
			o.closePosition(ctx, pos, mid, "stop loss")
		} else if mid <= pos.TakeProfit {
			o.closePosition(ctx, pos, mid, "take profit")
		}
	}
}

// tryEnter walks the entry gates in order and opens a position when they all
// pass. Every rejection is cheap and silent except the interesting ones.
func (o *Orchestrator) tryEnter(ctx context.Context, sig domain.Signal, mid float64) {
	if sig.Direction == domain.DirectionNone {
		return
	}

	o.entryMu.Lock()
	last, seen := o.lastEntry[sig.Symbol]
	o.entryMu.Unlock()
	if seen && o.now().Sub(last) < o.cfg.Cooldown {
		return
	}

	if blocked, regime := o.regimeBlocks(sig.Symbol, sig.Direction); blocked {
		o.logger.Debug("entry blocked by regime",
			slog.String("symbol", sig.Symbol),
			slog.String("direction", string(sig.Direction)),
			slog.String("regime", string(regime)))
		return
	}

	if sig.Strength < o.cfg.MinStrength {
		return
	}

	if err := o.ledger.CanOpen(sig.Symbol); err != nil {
		o.logger.Debug("entry rejected by ledger",
			slog.String("symbol", sig.Symbol),
			slog.String("reason", err.Error()))
		if errors.Is(err, domain.ErrDrawdownCeiling) {
			o.notifier.DrawdownPaused(ctx, o.ledger.Stats())
		}
		return
	}

	atr := o.atrEstimate(sig.Symbol)
	mult := domain.StopMultiplier(o.riskProfile(sig.Symbol, atr, mid))
	stop, target := o.ledger.StopTarget(mid, sig.Direction, atr, mult)

	balance, err := o.broker.AvailableBalance(ctx)
	if err != nil {
		o.logger.Error("balance fetch failed",
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()))
		return
	}
	qty := o.ledger.Size(balance, mid, stop, sig.Strength)
	if qty <= 0 {
		return
	}

	ord, err := o.engine.Chase(ctx, sig.Symbol, sig.Direction.Side(), qty)
	if err != nil {
		o.logger.Error("entry execution failed",
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()))
		return
	}
	entry := ord.Price
	if entry <= 0 {
		entry = mid
	}

	pos := domain.Position{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		EntryPrice: entry,
		Quantity:   qty,
		StopLoss:   stop,
		TakeProfit: target,
		EntryTime:  o.now().UTC(),
	}
	o.ledger.Open(ctx, pos)

	o.entryMu.Lock()
	o.lastEntry[sig.Symbol] = o.now()
	o.entryMu.Unlock()

	if err := o.feed.Publish(ctx, sig); err != nil {
		o.logger.Warn("signal publish failed", slog.String("error", err.Error()))
	}
	o.notifier.TradeOpened(ctx, pos, sig.Reason)
}

// closePosition unwinds pos with a chase and books the result.
func (o *Orchestrator) closePosition(ctx context.Context, pos domain.Position, mid float64, reason string) {
	ord, err := o.engine.Chase(ctx, pos.Symbol, pos.Direction.Opposite().Side(), pos.Quantity)
	if err != nil {
		o.logger.Error("exit execution failed",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	exit := ord.Price
	if exit <= 0 {
		exit = mid
	}

	pnl := o.ledger.Close(ctx, pos.Symbol, exit)
	o.logger.Info("position exit",
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("pnl", pnl))
	o.notifier.TradeClosed(ctx, pos, exit, pnl, reason)
}

// regimeBlocks applies the directional regime gate under the read lock.
func (o *Orchestrator) regimeBlocks(symbol string, dir domain.Direction) (bool, domain.Regime) {
	if !o.cfg.RegimeEnabled || o.detector == nil {
		return false, domain.RegimeUnknown
	}

	o.barMu.Lock()
	bars := o.bars[symbol]
	o.barMu.Unlock()

	o.regimeMu.RLock()
	regime, _ := o.detector.Detect(bars)
	o.regimeMu.RUnlock()

	switch {
	case dir == domain.DirectionBuy && regime == domain.RegimeBear:
		return true, regime
	case dir == domain.DirectionSell && regime == domain.RegimeBull:
		return true, regime
	case o.cfg.BlockSideways && regime == domain.RegimeSideways:
		return true, regime
	}
	return false, regime
}

// riskProfile asks the advisor with the observations we have; everything the
// tick path cannot compute cheaply stays zero. Advisor failure means the
// balanced profile.
func (o *Orchestrator) riskProfile(symbol string, atr, mid float64) int {
	if o.advisor == nil {
		return 1
	}

	var atrPct float64
	if mid > 0 {
		atrPct = atr / mid * 100
	}
	obs := [5]float64{
		0,
		atrPct / 5,
		0,
		0,
		o.ledger.Stats().CurrentDrawdown,
	}

	profile, err := o.advisor.Profile(obs)
	if err != nil {
		o.logger.Warn("risk advisor failed, using balanced profile",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return 1
	}
	return profile
}

// OnBar appends a closed bar to the symbol's history and advances the ATR
// estimate with Wilder smoothing.
func (o *Orchestrator) OnBar(_ context.Context, bar domain.Bar) {
	o.evMu.Lock()
	defer o.evMu.Unlock()
	o.barMu.Lock()
	defer o.barMu.Unlock()

	hist := o.bars[bar.Symbol]
	tr := bar.High - bar.Low
	if n := len(hist); n > 0 {
		prevClose := hist[n-1].Close
		tr = math.Max(tr, math.Max(
			math.Abs(bar.High-prevClose),
			math.Abs(bar.Low-prevClose)))
	}

	hist = append(hist, bar)
	if len(hist) > o.cfg.BarHistory {
		hist = hist[len(hist)-o.cfg.BarHistory:]
	}
	o.bars[bar.Symbol] = hist

	if prev, ok := o.atr[bar.Symbol]; ok {
		o.atr[bar.Symbol] = (prev*(atrPeriod-1) + tr) / atrPeriod
	} else {
		o.atr[bar.Symbol] = tr
	}
}

func (o *Orchestrator) atrEstimate(symbol string) float64 {
	o.barMu.Lock()
	defer o.barMu.Unlock()
	return o.atr[symbol]
}

// OnFeedReset clears per-symbol analysis state after a feed reconnect: the
// first diff against a pre-disconnect quote is meaningless.
func (o *Orchestrator) OnFeedReset() {
	o.analyzer.ResetAll()
	for _, sym := range o.cfg.Symbols {
		o.vwap.Reset(sym)
	}
	o.logger.Info("flow state reset after reconnect")
}

// Package ledger owns the open positions and the daily trading statistics.
// It is the single authority on whether a new position may be opened and it
// persists its state through a LedgerStore after every mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Config holds the risk limits the ledger enforces.
type Config struct {
	MaxPositions        int     // concurrent open positions, default 3
	RiskFraction        float64 // balance fraction risked per trade, default 0.01
	MaxPositionFraction float64 // notional cap as balance fraction, default 0.1
	DrawdownCeiling     float64 // daily drawdown that pauses trading, default 0.05
	DrawdownBaseline    float64 // fixed notional divisor for drawdown units, default 1000
	StopPct             float64 // fallback stop distance, percent of entry
}

func (c *Config) fillDefaults() {
	if c.MaxPositions <= 0 {
		c.MaxPositions = 3
	}
	if c.RiskFraction <= 0 {
		c.RiskFraction = 0.01
	}
	if c.MaxPositionFraction <= 0 {
		c.MaxPositionFraction = 0.1
	}
	if c.DrawdownCeiling <= 0 {
		c.DrawdownCeiling = 0.05
	}
	if c.DrawdownBaseline <= 0 {
		c.DrawdownBaseline = 1000
	}
	if c.StopPct <= 0 {
		c.StopPct = 0.5
	}
}

// Ledger tracks open positions and daily statistics under one mutex.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	stats     domain.DailyStats

	cfg       Config
	store     domain.LedgerStore
	publisher domain.StatsPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedger creates a Ledger. store may not be nil; publisher may be nil when
// no presentation layer is wired.
func NewLedger(cfg Config, store domain.LedgerStore, publisher domain.StatsPublisher, logger *slog.Logger) *Ledger {
	cfg.fillDefaults()
	l := &Ledger{
		positions: make(map[string]domain.Position),
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
	}
	l.stats = domain.DailyStats{Date: l.today()}
	return l
}

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// rolloverLocked resets stats when the calendar date has changed. The pause
// flag clears with the new day. Caller holds l.mu.
func (l *Ledger) rolloverLocked() {
	today := l.today()
	if l.stats.Date == today {
		return
	}
	l.logger.Info("daily stats rollover",
		slog.String("from", l.stats.Date),
		slog.String("to", today))
	l.stats = domain.DailyStats{Date: today}
}

// CanOpen returns nil when a new position on symbol is permitted. The call
// that crosses the drawdown ceiling returns domain.ErrDrawdownCeiling and
// sets the pause flag, which is sticky for the rest of the day even if
// drawdown later decreases; every call after that returns
// domain.ErrLedgerPaused.
func (l *Ledger) CanOpen(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if l.stats.Paused {
		return fmt.Errorf("ledger: trading paused for the day: %w", domain.ErrLedgerPaused)
	}
	if len(l.positions) >= l.cfg.MaxPositions {
		return fmt.Errorf("ledger: max positions reached (%d)", l.cfg.MaxPositions)
	}
	if _, open := l.positions[symbol]; open {
		return fmt.Errorf("ledger: position already open for %s", symbol)
	}
	if l.stats.CurrentDrawdown >= l.cfg.DrawdownCeiling {
		l.stats.Paused = true
		l.logger.Warn("drawdown ceiling hit, pausing trading",
			slog.Float64("drawdown", l.stats.CurrentDrawdown),
			slog.Float64("ceiling", l.cfg.DrawdownCeiling))
		l.persistLocked(context.Background())
		return fmt.Errorf("ledger: drawdown %.4f at ceiling %.4f: %w",
			l.stats.CurrentDrawdown, l.cfg.DrawdownCeiling, domain.ErrDrawdownCeiling)
	}
	return nil
}

// Size computes the position quantity for a trade risking RiskFraction of
// balance scaled by signal confidence, using the entry-to-stop distance as
// the per-unit risk. The result never exceeds MaxPositionFraction of balance
// in notional terms.
func (l *Ledger) Size(balance, entry, stop, confidence float64) float64 {
	if balance <= 0 || entry <= 0 || confidence <= 0 {
		return 0
	}
	dist := math.Abs(entry - stop)
	if dist == 0 {
		dist = entry * l.cfg.StopPct / 100
	}
	qty := balance * l.cfg.RiskFraction * confidence / dist
	maxQty := balance * l.cfg.MaxPositionFraction / entry
	return math.Min(qty, maxQty)
}

// StopTarget derives stop-loss and take-profit prices from an ATR estimate
// and a risk-profile multiplier. The target sits at twice the stop distance.
func (l *Ledger) StopTarget(entry float64, direction domain.Direction, atr, mult float64) (stop, target float64) {
	dist := atr * mult
	if dist <= 0 {
		dist = entry * l.cfg.StopPct / 100
	}
	if direction == domain.DirectionSell {
		return entry + dist, entry - dist*2
	}
	return entry - dist, entry + dist*2
}

// Open registers a new position and persists. A symbol that is already open
// is a caller invariant violation: it is logged and the call is a no-op.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	if _, exists := l.positions[pos.Symbol]; exists {
		l.logger.Warn("open ignored, position already exists",
			slog.String("symbol", pos.Symbol))
		return
	}
	l.positions[pos.Symbol] = pos
	l.logger.Info("position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("qty", pos.Quantity))
	l.persistLocked(ctx)
}

// Close removes the position and folds its realized PnL into the daily
// stats. Losses advance the drawdown counter by |pnl|/DrawdownBaseline.
// Closing an unknown symbol is a logged no-op returning 0, stats unchanged.
func (l *Ledger) Close(ctx context.Context, symbol string, exitPrice float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	pos, ok := l.positions[symbol]
	if !ok {
		l.logger.Warn("close ignored, no open position", slog.String("symbol", symbol))
		return 0
	}

	pnl := pos.UnrealizedPnL(exitPrice)
	delete(l.positions, symbol)

	l.stats.TotalTrades++
	if pnl > 0 {
		l.stats.Wins++
	} else {
		l.stats.Losses++
	}
	l.stats.TotalPnL += pnl
	if pnl < 0 {
		l.stats.CurrentDrawdown += math.Abs(pnl) / l.cfg.DrawdownBaseline
		if l.stats.CurrentDrawdown > l.stats.MaxDrawdown {
			l.stats.MaxDrawdown = l.stats.CurrentDrawdown
		}
	}

	l.logger.Info("position closed",
		slog.String("symbol", symbol),
		slog.Float64("exit", exitPrice),
		slog.Float64("pnl", pnl),
		slog.Float64("drawdown", l.stats.CurrentDrawdown))

	l.persistLocked(ctx)
	l.publishLocked(ctx)
	return pnl
}

// Stats returns a snapshot of today's statistics.
func (l *Ledger) Stats() domain.DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.stats
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	return out
}

// Persist writes the current state through the store.
func (l *Ledger) Persist(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persistLocked(ctx)
}

// persistLocked saves state best-effort. On failure the in-memory state stays
// authoritative; a restart before the next successful save loses recent
// trades, which is logged loudly. Caller holds l.mu.
func (l *Ledger) persistLocked(ctx context.Context) {
	if l.store == nil {
		return
	}
	positions := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		positions = append(positions, pos)
	}
	if err := l.store.SaveState(ctx, l.stats, positions); err != nil {
		l.logger.Error("state persistence failed, restart will lose recent state",
			slog.Any("error", err))
	}
}

// publishLocked pushes a stats snapshot to the presentation layer. Caller
// holds l.mu.
func (l *Ledger) publishLocked(ctx context.Context) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishStats(ctx, l.stats); err != nil {
		l.logger.Warn("stats publish failed", slog.Any("error", err))
	}
}

// Load restores today's stats and the open positions from the store. A stats
// row for a previous date is ignored: the new day starts fresh rather than
// inheriting stale counters.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()
	stats, err := l.store.LoadStats(ctx, today)
	switch {
	case err == nil:
		l.stats = stats
	case errors.Is(err, domain.ErrNotFound):
		l.stats = domain.DailyStats{Date: today}
	default:
		return fmt.Errorf("ledger: load stats: %w", err)
	}

	positions, err := l.store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load positions: %w", err)
	}
	l.positions = make(map[string]domain.Position, len(positions))
	for _, pos := range positions {
		l.positions[pos.Symbol] = pos
	}

	l.logger.Info("ledger state restored",
		slog.String("date", l.stats.Date),
		slog.Int("open_positions", len(l.positions)),
		slog.Int("trades", l.stats.TotalTrades))
	return nil
}

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Run drives the background timers until ctx is cancelled or EmergencyStop
// fires, then unwinds: open orders cancelled, state persisted.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.stop = cancel
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.TimeExitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				o.timeExitScan(ctx)
			}
		}
	})

	if o.cfg.RegimeEnabled && o.detector != nil {
		g.Go(func() error {
			ticker := time.NewTicker(o.cfg.RetrainInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					o.retrain()
				}
			}
		})
	}

	err := g.Wait()
	o.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// timeExitScan closes positions that outlived MaxHold. It runs under the
// event-loop lock so it can never race a book tick into a double exit.
func (o *Orchestrator) timeExitScan(ctx context.Context) {
	o.evMu.Lock()
	defer o.evMu.Unlock()

	for _, pos := range o.ledger.Positions() {
		if o.now().Sub(pos.EntryTime) < o.cfg.MaxHold {
			continue
		}
		o.closePosition(ctx, pos, o.bestKnownPrice(pos), "max hold exceeded")
	}
}

// retrain recalibrates the regime detector from the primary symbol's bar
// history under the write lock. Failures are logged and skipped; the old
// calibration keeps serving reads.
func (o *Orchestrator) retrain() {
	if len(o.cfg.Symbols) == 0 {
		return
	}
	primary := o.cfg.Symbols[0]

	o.barMu.Lock()
	bars := append([]domain.Bar(nil), o.bars[primary]...)
	o.barMu.Unlock()

	o.regimeMu.Lock()
	err := o.detector.Retrain(bars)
	o.regimeMu.Unlock()
	if err != nil {
		o.logger.Warn("regime retrain skipped",
			slog.String("symbol", primary),
			slog.String("error", err.Error()))
	}
}

// EmergencyStop flattens every position at the best-known price with market
// orders, cancels all resting orders, persists, and halts the run loop.
// Individual failures are logged and the iteration continues.
func (o *Orchestrator) EmergencyStop(ctx context.Context) {
	o.logger.Warn("emergency stop initiated")

	o.evMu.Lock()
	defer o.evMu.Unlock()

	closed := 0
	for _, pos := range o.ledger.Positions() {
		price := o.bestKnownPrice(pos)
		if _, err := o.broker.PlaceMarket(ctx, pos.Symbol, pos.Direction.Opposite().Side(), pos.Quantity); err != nil {
			o.logger.Error("emergency close failed",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		o.ledger.Close(ctx, pos.Symbol, price)
		closed++
	}

	for _, sym := range o.cfg.Symbols {
		if err := o.broker.CancelAll(ctx, sym); err != nil {
			o.logger.Error("emergency cancel failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()))
		}
	}

	o.ledger.Persist(ctx)
	o.notifier.EmergencyStopped(ctx, closed)

	o.stopOnce.Do(func() {
		if o.stop != nil {
			o.stop()
		}
	})
}

// shutdown runs after the timers stop: cancel whatever is resting on the
// exchange and write the final state. The parent context is already
// cancelled, so broker calls get a detached context with a deadline.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 10*time.Second)
	defer cancel()

	for _, sym := range o.cfg.Symbols {
		if err := o.broker.CancelAll(ctx, sym); err != nil {
			o.logger.Error("shutdown cancel failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()))
		}
	}
	o.ledger.Persist(ctx)
	o.logger.Info("orchestrator stopped")
}

// bestKnownPrice returns the latest mid for the position's symbol, falling
// back to the entry price when the book is unknown.
func (o *Orchestrator) bestKnownPrice(pos domain.Position) float64 {
	snap, err := o.books.Snapshot(pos.Symbol)
	if err != nil {
		return pos.EntryPrice
	}
	return snap.Mid()
}

// Status is the read-only snapshot served to dashboards.
type Status struct {
	Stats     domain.DailyStats `json:"stats"`
	Positions []domain.Position `json:"positions"`
	Signals   []domain.Signal   `json:"signals"`
}

// Status reports current stats, open positions, and recent signals.
func (o *Orchestrator) Status(ctx context.Context) Status {
	signals, err := o.feed.Recent(ctx, 20)
	if err != nil {
		o.logger.Warn("recent signals fetch failed", slog.String("error", err.Error()))
	}
	return Status{
		Stats:     o.ledger.Stats(),
		Positions: o.ledger.Positions(),
		Signals:   signals,
	}
}

// Package exec turns a desired fill into broker orders by chasing the best
// quote with post-only limits and falling back to a market order when the
// quote keeps moving away.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// BestPriceFunc resolves the current passive quote price for a side.
type BestPriceFunc func(symbol string, side domain.OrderSide) (float64, error)

// Config holds the chase tuning parameters.
type Config struct {
	ChaseTimeout time.Duration // per-attempt fill deadline, default 2s
	PollInterval time.Duration // status poll cadence, default 200ms
	MaxRetries   int           // limit attempts before market fallback, default 5
}

func (c *Config) fillDefaults() {
	if c.ChaseTimeout <= 0 {
		c.ChaseTimeout = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// chaseState is the per-attempt phase of the chase loop.
type chaseState int

const (
	stateQuoting chaseState = iota // resolving a price and placing the limit
	statePending                   // limit resting, polling for a fill
)

func (s chaseState) String() string {
	switch s {
	case stateQuoting:
		return "quoting"
	case statePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Engine executes fills against a BrokerClient. The clock and sleep are
// injectable so the chase loop is deterministic under test.
type Engine struct {
	broker    domain.BrokerClient
	bestPrice BestPriceFunc
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. Zero config fields take defaults.
func NewEngine(broker domain.BrokerClient, bestPrice BestPriceFunc, cfg Config, logger *slog.Logger) *Engine {
	cfg.fillDefaults()
	return &Engine{
		broker:    broker,
		bestPrice: bestPrice,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "exec_engine")),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Chase works a fill for qty at the best passive price. Each attempt places a
// post-only limit at the current best quote and polls until the per-attempt
// timeout; unfilled attempts are cancelled and requoted at the fresh price.
// After MaxRetries attempts the remaining quantity is taken with a market
// order. Exactly one terminal outcome: a filled (or submitted-market) order,
// or an error.
func (e *Engine) Chase(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (domain.Order, error) {
	if qty <= 0 {
		return domain.Order{}, fmt.Errorf("exec: non-positive quantity %g for %s", qty, symbol)
	}

	// Price lookups that fail (empty book right after reconnect) get a brief
	// wait and do not consume an attempt, up to a bounded number of waits.
	priceWaits := 0
	maxPriceWaits := 3 * e.cfg.MaxRetries

	state := stateQuoting
	attempt := 0
	for attempt < e.cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return domain.Order{}, fmt.Errorf("exec: chase %s aborted: %w", symbol, err)
		}

		price, err := e.bestPrice(symbol, side)
		if err != nil {
			priceWaits++
			if priceWaits > maxPriceWaits {
				return domain.Order{}, fmt.Errorf("exec: no quote for %s: %w", symbol, domain.ErrNoLiquidity)
			}
			if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
				return domain.Order{}, fmt.Errorf("exec: chase %s aborted: %w", symbol, err)
			}
			continue
		}

		state = stateQuoting
		ord, err := e.broker.PlaceLimit(ctx, symbol, side, qty, price, true)
		if err != nil {
			e.logger.Warn("limit placement failed",
				slog.String("symbol", symbol),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err))
			attempt++
			continue
		}
		state = statePending

		filled, final := e.awaitFill(ctx, ord)
		if filled {
			final.Status = domain.OrderStatusFilled
			return final, nil
		}
		if err := ctx.Err(); err != nil {
			// Context died mid-poll; the cancel below already went out
			// fire-and-forget inside awaitFill.
			return domain.Order{}, fmt.Errorf("exec: chase %s aborted: %w", symbol, err)
		}

		e.logger.Debug("chase attempt unfilled, requoting",
			slog.String("symbol", symbol),
			slog.String("order_id", ord.ID),
			slog.Float64("price", price),
			slog.Int("attempt", attempt+1),
			slog.String("state", state.String()))
		attempt++
	}

	e.logger.Info("chase exhausted, taking market",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", qty))

	ord, err := e.broker.PlaceMarket(ctx, symbol, side, qty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exec: %w: market fallback for %s failed: %v", domain.ErrChaseExhausted, symbol, err)
	}
	ord.Status = domain.OrderStatusFilled
	return ord, nil
}

// awaitFill polls the order until it fills, reaches another terminal status,
// or the per-attempt deadline passes. Unfilled orders get a best-effort
// cancel; cancel failures are tolerated because the order may have died on
// the exchange already.
func (e *Engine) awaitFill(ctx context.Context, ord domain.Order) (bool, domain.Order) {
	deadline := e.now().Add(e.cfg.ChaseTimeout)

	for e.now().Before(deadline) {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			break
		}

		status, err := e.broker.OrderStatus(ctx, ord.Symbol, ord.ID)
		if err != nil {
			e.logger.Debug("order status poll failed",
				slog.String("order_id", ord.ID),
				slog.Any("error", err))
			continue
		}
		if status == domain.OrderStatusFilled {
			return true, ord
		}
		if status.Terminal() {
			ord.Status = status
			break
		}
	}

	if cErr := e.broker.Cancel(context.WithoutCancel(ctx), ord.Symbol, ord.ID); cErr != nil {
		e.logger.Debug("cancel after timeout failed",
			slog.String("order_id", ord.ID),
			slog.Any("error", cErr))
	}
	return false, ord
}

package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrader/flowtrader/internal/domain"
)

type fakeBroker struct {
	mu          sync.Mutex
	limitCalls  int
	marketCalls int
	cancelCalls int

	pollStatus domain.OrderStatus
	limitErr   error
	marketErr  error
	statusErr  error
}

func (f *fakeBroker) PlaceLimit(_ context.Context, symbol string, side domain.OrderSide, qty, price float64, postOnly bool) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limitCalls++
	if f.limitErr != nil {
		return domain.Order{}, f.limitErr
	}
	return domain.Order{
		ID:       fmt.Sprintf("limit-%d", f.limitCalls),
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		PostOnly: postOnly,
		Status:   domain.OrderStatusNew,
	}, nil
}

func (f *fakeBroker) PlaceMarket(_ context.Context, symbol string, side domain.OrderSide, qty float64) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	if f.marketErr != nil {
		return domain.Order{}, f.marketErr
	}
	return domain.Order{
		ID:       fmt.Sprintf("market-%d", f.marketCalls),
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Status:   domain.OrderStatusFilled,
	}, nil
}

func (f *fakeBroker) Cancel(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return nil
}

func (f *fakeBroker) CancelAll(context.Context, string) error { return nil }

func (f *fakeBroker) OrderStatus(context.Context, string, string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return domain.OrderStatusUnknown, f.statusErr
	}
	return f.pollStatus, nil
}

func (f *fakeBroker) Balance(context.Context) (float64, error)          { return 10000, nil }
func (f *fakeBroker) AvailableBalance(context.Context) (float64, error) { return 10000, nil }

// fakeClock advances on every sleep so chase timeouts elapse without real
// waiting.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func newTestEngine(broker domain.BrokerClient, price float64, cfg Config) *Engine {
	bestPrice := func(string, domain.OrderSide) (float64, error) { return price, nil }
	e := NewEngine(broker, bestPrice, cfg, slog.New(slog.DiscardHandler))
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	e.now = clk.now
	e.sleep = clk.sleep
	return e
}

func TestChaseFilledFirstAttempt(t *testing.T) {
	broker := &fakeBroker{pollStatus: domain.OrderStatusFilled}
	e := newTestEngine(broker, 100, Config{})

	ord, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
	assert.Equal(t, 1, broker.limitCalls)
	assert.Zero(t, broker.marketCalls)
	assert.InDelta(t, 100.0, ord.Price, 1e-9)
	assert.True(t, ord.PostOnly)
}

func TestChaseExhaustedFallsBackToMarket(t *testing.T) {
	broker := &fakeBroker{pollStatus: domain.OrderStatusCanceled}
	e := newTestEngine(broker, 100, Config{MaxRetries: 3})

	ord, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideSell, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
	assert.Equal(t, 3, broker.limitCalls)
	assert.Equal(t, 1, broker.marketCalls)
}

func TestChaseTimeoutRequotes(t *testing.T) {
	// Order never leaves NEW: every attempt times out, cancels and requotes.
	broker := &fakeBroker{pollStatus: domain.OrderStatusNew}
	e := newTestEngine(broker, 100, Config{MaxRetries: 2})

	ord, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
	assert.Equal(t, 2, broker.limitCalls)
	assert.Equal(t, 2, broker.cancelCalls)
	assert.Equal(t, 1, broker.marketCalls)
}

func TestChaseMarketFailureWrapsExhausted(t *testing.T) {
	broker := &fakeBroker{
		pollStatus: domain.OrderStatusCanceled,
		marketErr:  errors.New("insufficient margin"),
	}
	e := newTestEngine(broker, 100, Config{MaxRetries: 2})

	_, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrChaseExhausted)
}

func TestChaseNoQuoteGivesUp(t *testing.T) {
	broker := &fakeBroker{pollStatus: domain.OrderStatusFilled}
	bestPrice := func(string, domain.OrderSide) (float64, error) {
		return 0, domain.ErrNotFound
	}
	e := NewEngine(broker, bestPrice, Config{MaxRetries: 2}, slog.New(slog.DiscardHandler))
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	e.now = clk.now
	e.sleep = clk.sleep

	_, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	assert.Zero(t, broker.limitCalls)
	assert.Zero(t, broker.marketCalls)
}

func TestChaseLimitErrorConsumesAttempt(t *testing.T) {
	broker := &fakeBroker{
		pollStatus: domain.OrderStatusFilled,
		limitErr:   errors.New("post-only would cross"),
	}
	e := newTestEngine(broker, 100, Config{MaxRetries: 3})

	ord, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, broker.limitCalls)
	assert.Equal(t, 1, broker.marketCalls)
	assert.Equal(t, domain.OrderStatusFilled, ord.Status)
}

func TestChaseContextCancelled(t *testing.T) {
	broker := &fakeBroker{pollStatus: domain.OrderStatusNew}
	e := newTestEngine(broker, 100, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Chase(ctx, "BTCUSDT", domain.OrderSideBuy, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, broker.marketCalls)
}

func TestChaseRejectsNonPositiveQuantity(t *testing.T) {
	broker := &fakeBroker{pollStatus: domain.OrderStatusFilled}
	e := newTestEngine(broker, 100, Config{})

	_, err := e.Chase(context.Background(), "BTCUSDT", domain.OrderSideBuy, 0)
	require.Error(t, err)
	assert.Zero(t, broker.limitCalls)
}

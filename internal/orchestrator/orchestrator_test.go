package orchestrator

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrader/flowtrader/internal/book"
	"github.com/flowtrader/flowtrader/internal/cache/redis"
	"github.com/flowtrader/flowtrader/internal/domain"
	"github.com/flowtrader/flowtrader/internal/exec"
	"github.com/flowtrader/flowtrader/internal/flow"
	"github.com/flowtrader/flowtrader/internal/ledger"
	"github.com/flowtrader/flowtrader/internal/notify"
	"github.com/flowtrader/flowtrader/internal/risk"
	"github.com/flowtrader/flowtrader/internal/store/memory"
)

type fakeBroker struct {
	mu         sync.Mutex
	limits     int
	markets    int
	cancelAlls int

	// statusDelay stretches every status poll, keeping a chase in flight
	// long enough for another goroutine to observe the interleaving.
	statusDelay time.Duration
}

func (f *fakeBroker) PlaceLimit(_ context.Context, symbol string, side domain.OrderSide, qty, price float64, postOnly bool) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits++
	return domain.Order{
		ID:       strconv.Itoa(f.limits),
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
	f.markets++
	return domain.Order{
		ID:       "m" + strconv.Itoa(f.markets),
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Status:   domain.OrderStatusFilled,
	}, nil
}

func (f *fakeBroker) Cancel(context.Context, string, string) error { return nil }

func (f *fakeBroker) CancelAll(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAlls++
	return nil
}

func (f *fakeBroker) OrderStatus(context.Context, string, string) (domain.OrderStatus, error) {
	if f.statusDelay > 0 {
		time.Sleep(f.statusDelay)
	}
	return domain.OrderStatusFilled, nil
}

func (f *fakeBroker) Balance(context.Context) (float64, error) { return 10_000, nil }

func (f *fakeBroker) AvailableBalance(context.Context) (float64, error) { return 10_000, nil }

type fixedDetector struct {
	regime domain.Regime
}

func (d fixedDetector) Detect([]domain.Bar) (domain.Regime, float64) { return d.regime, 1 }

func (d fixedDetector) Retrain([]domain.Bar) error { return nil }

type harness struct {
	orch   *Orchestrator
	broker *fakeBroker
	ledger *ledger.Ledger
}

func newHarness(t *testing.T, cfg Config, detector domain.RegimeDetector) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	if cfg.MaxSpreadPct == 0 {
		cfg.MaxSpreadPct = 2
	}

	broker := &fakeBroker{}
	books := book.NewStream(logger)
	led := ledger.NewLedger(ledger.Config{DrawdownBaseline: 1000}, memory.NewStore(), redis.NopStatsPublisher{}, logger)
	engine := exec.NewEngine(broker, books.BestPrice, exec.Config{
		ChaseTimeout: 50 * time.Millisecond,
		PollInterval: time.Millisecond,
		MaxRetries:   2,
	}, logger)

	orch := New(cfg, Deps{
		Books:    books,
		Analyzer: flow.NewAnalyzer(flow.Config{HistorySize: 50, MinSamples: 4}, logger),
		VWAP:     flow.NewVWAPTracker(100),
		Engine:   engine,
		Ledger:   led,
		Broker:   broker,
		Detector: detector,
		Advisor:  risk.BalancedAdvisor{},
		Feed:     redis.NopSignalFeed{},
		Notifier: notify.NewNotifier(nil, nil, logger),
	}, logger)

	return &harness{orch: orch, broker: broker, ledger: led}
}

func snap(bidSize, askSize float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    "BTCUSDT",
		BidPrice:  100,
		BidSize:   bidSize,
		AskPrice:  101,
		AskSize:   askSize,
		Timestamp: time.Now(),
	}
}

// warm primes the analyzer and fills the OFI history with alternating small
// imbalances so a later burst stands out as a high z-score.
func (h *harness) warm(ctx context.Context) {
	h.orch.OnBook(ctx, snap(5, 5))
	for i := 0; i < 8; i++ {
		size := 5.0 + float64(1-i%2)
		h.orch.OnBook(ctx, snap(size, 5))
	}
}

func TestStrongBuyFlowOpensPosition(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.orch.OnBook(ctx, snap(15, 5))

	pos, open := h.ledger.Position("BTCUSDT")
	require.True(t, open, "strong buy flow should open a position")
	assert.Equal(t, domain.DirectionBuy, pos.Direction)
	assert.Greater(t, pos.Quantity, 0.0)
	assert.Less(t, pos.StopLoss, pos.EntryPrice)
	assert.Greater(t, pos.TakeProfit, pos.EntryPrice)
	assert.GreaterOrEqual(t, h.broker.limits, 1)
}

func TestCooldownBlocksReentry(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.orch.OnBook(ctx, snap(15, 5))
	_, open := h.ledger.Position("BTCUSDT")
	require.True(t, open)

	// Flatten and immediately produce another strong signal.
	h.ledger.Close(ctx, "BTCUSDT", 100.5)
	h.orch.OnBook(ctx, snap(25, 5))

	_, open = h.ledger.Position("BTCUSDT")
	assert.False(t, open, "cooldown should block the second entry")
}

func TestWideSpreadBlocksEntry(t *testing.T) {
	h := newHarness(t, Config{MaxSpreadPct: 0.1}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.orch.OnBook(ctx, snap(15, 5))

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open, "one percent spread must not trade under a 0.1 percent cap")
}

func TestRegimeGateBlocksBuyInBear(t *testing.T) {
	h := newHarness(t, Config{RegimeEnabled: true}, fixedDetector{regime: domain.RegimeBear})
	ctx := context.Background()

	h.warm(ctx)
	h.orch.OnBook(ctx, snap(15, 5))

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open)
}

func TestRegimeGateAllowsBuyInBull(t *testing.T) {
	h := newHarness(t, Config{RegimeEnabled: true}, fixedDetector{regime: domain.RegimeBull})
	ctx := context.Background()

	h.warm(ctx)
	h.orch.OnBook(ctx, snap(15, 5))

	_, open := h.ledger.Position("BTCUSDT")
	assert.True(t, open)
}

func TestReversalExitClosesAgedPosition(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.ledger.Open(ctx, domain.Position{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: 100.5,
		Quantity:   1,
		StopLoss:   90,
		TakeProfit: 110,
		EntryTime:  time.Now().Add(-time.Minute),
	})

	// Burst of aggressive selling: the ask size jump reads as sell flow.
	h.orch.OnBook(ctx, snap(5, 15))

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open, "opposing flow should close the position")
	assert.Equal(t, 1, h.ledger.Stats().TotalTrades)
}

func TestMinHoldProtectsFreshPosition(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.ledger.Open(ctx, domain.Position{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: 100.5,
		Quantity:   1,
		StopLoss:   90,
		TakeProfit: 110,
		EntryTime:  time.Now(),
	})

	h.orch.OnBook(ctx, snap(5, 15))

	_, open := h.ledger.Position("BTCUSDT")
	assert.True(t, open, "reversal exit must respect the minimum hold")
}

func TestStopLossExit(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.warm(ctx)
	h.ledger.Open(ctx, domain.Position{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: 100.5,
		Quantity:   1,
		StopLoss:   100.45,
		TakeProfit: 110,
		EntryTime:  time.Now(),
	})

	// Same sizes, no flow event, mid sits below the stop.
	h.orch.OnBook(ctx, domain.BookSnapshot{
		Symbol: "BTCUSDT", BidPrice: 100, BidSize: 5, AskPrice: 100.5, AskSize: 5,
		Timestamp: time.Now(),
	})

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open)
	assert.Equal(t, 1, h.ledger.Stats().Losses)
}

func TestTimeExitScanClosesOldPositions(t *testing.T) {
	h := newHarness(t, Config{MaxHold: time.Minute}, nil)
	ctx := context.Background()

	h.orch.OnBook(ctx, snap(5, 5))
	h.ledger.Open(ctx, domain.Position{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: 100.5,
		Quantity:   1,
		StopLoss:   90,
		TakeProfit: 110,
		EntryTime:  time.Now().Add(-2 * time.Minute),
	})

	h.orch.timeExitScan(ctx)

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open)
}

func TestConcurrentTimeExitAndStopLossCloseOnce(t *testing.T) {
	h := newHarness(t, Config{MaxHold: time.Minute}, nil)
	ctx := context.Background()

	// Seed the book so exits have a best price to chase against.
	h.orch.OnBook(ctx, snap(5, 5))

	// One aged BUY position whose stop already sits above the mid: the
	// time-exit scan and the next book tick both want it closed.
	h.broker.statusDelay = 20 * time.Millisecond
	h.ledger.Open(ctx, domain.Position{
		Symbol:     "BTCUSDT",
		Direction:  domain.DirectionBuy,
		EntryPrice: 101,
		Quantity:   1,
		StopLoss:   100.6,
		TakeProfit: 110,
		EntryTime:  time.Now().Add(-2 * time.Minute),
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.orch.timeExitScan(ctx)
	}()
	go func() {
		defer wg.Done()
		h.orch.OnBook(ctx, snap(5, 5))
	}()
	wg.Wait()

	_, open := h.ledger.Position("BTCUSDT")
	assert.False(t, open)
	assert.Equal(t, 1, h.ledger.Stats().TotalTrades, "one position must book exactly one trade")
	assert.Equal(t, 1, h.broker.limits, "one position must receive exactly one exit order")
	assert.Zero(t, h.broker.markets)
}

func TestEmergencyStopFlattensEverything(t *testing.T) {
	h := newHarness(t, Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, nil)
	ctx := context.Background()

	h.ledger.Open(ctx, domain.Position{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		EntryPrice: 100, Quantity: 1, EntryTime: time.Now(),
	})
	h.ledger.Open(ctx, domain.Position{
		Symbol: "ETHUSDT", Direction: domain.DirectionSell,
		EntryPrice: 200, Quantity: 2, EntryTime: time.Now(),
	})

	h.orch.EmergencyStop(ctx)

	assert.Empty(t, h.ledger.Positions())
	assert.Equal(t, 2, h.broker.markets)
	assert.Equal(t, 2, h.broker.cancelAlls)
}

func TestOnBarBuildsATR(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		h.orch.OnBar(ctx, domain.Bar{
			Symbol:   "BTCUSDT",
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     100, High: 102, Low: 99, Close: 101, Volume: 10,
		})
	}

	assert.InDelta(t, 3.0, h.orch.atrEstimate("BTCUSDT"), 0.5)
}

func TestOnBarBoundsHistory(t *testing.T) {
	h := newHarness(t, Config{BarHistory: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h.orch.OnBar(ctx, domain.Bar{Symbol: "BTCUSDT", Close: float64(100 + i), High: 101, Low: 99})
	}

	h.orch.barMu.Lock()
	defer h.orch.barMu.Unlock()
	assert.Len(t, h.orch.bars["BTCUSDT"], 3)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	h.ledger.Open(ctx, domain.Position{
		Symbol: "BTCUSDT", Direction: domain.DirectionBuy,
		EntryPrice: 100, Quantity: 1, EntryTime: time.Now(),
	})

	st := h.orch.Status(ctx)
	assert.Len(t, st.Positions, 1)
	assert.Equal(t, 0, st.Stats.TotalTrades)
}

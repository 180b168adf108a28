package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrader/flowtrader/internal/domain"
	"github.com/flowtrader/flowtrader/internal/store/memory"
)

func newTestLedger(cfg Config) (*Ledger, *memory.Store) {
	store := memory.NewStore()
	l := NewLedger(cfg, store, nil, slog.New(slog.DiscardHandler))
	return l, store
}

func openPos(symbol string, dir domain.Direction, entry, qty float64) domain.Position {
	return domain.Position{
		Symbol:     symbol,
		Direction:  dir,
		EntryPrice: entry,
		Quantity:   qty,
		EntryTime:  time.Now().UTC(),
	}
}

func TestCanOpenHappyPath(t *testing.T) {
	l, _ := newTestLedger(Config{})

	assert.NoError(t, l.CanOpen("BTCUSDT"))
}

func TestCanOpenRejectsDuplicateSymbol(t *testing.T) {
	l, _ := newTestLedger(Config{})
	l.Open(context.Background(), openPos("BTCUSDT", domain.DirectionBuy, 100, 1))

	err := l.CanOpen("BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}

func TestCanOpenRejectsAtMaxPositions(t *testing.T) {
	l, _ := newTestLedger(Config{MaxPositions: 2})
	l.Open(context.Background(), openPos("BTCUSDT", domain.DirectionBuy, 100, 1))
	l.Open(context.Background(), openPos("ETHUSDT", domain.DirectionBuy, 50, 1))

	assert.Error(t, l.CanOpen("SOLUSDT"))
}

func TestDrawdownPauseIsSticky(t *testing.T) {
	l, _ := newTestLedger(Config{DrawdownCeiling: 0.05, DrawdownBaseline: 1000})
	ctx := context.Background()

	// One big loss: |pnl| = 60, drawdown = 0.06 >= ceiling.
	l.Open(ctx, openPos("BTCUSDT", domain.DirectionBuy, 100, 3))
	l.Close(ctx, "BTCUSDT", 80)

	// The crossing call carries the ceiling sentinel exactly once.
	err := l.CanOpen("BTCUSDT")
	require.ErrorIs(t, err, domain.ErrDrawdownCeiling)

	// A later win does not reduce drawdown and the pause stays.
	assert.True(t, l.Stats().Paused)
	err = l.CanOpen("ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrLedgerPaused)
	assert.NotErrorIs(t, err, domain.ErrDrawdownCeiling)
}

func TestSizeRisksFractionOfBalance(t *testing.T) {
	l, _ := newTestLedger(Config{RiskFraction: 0.01, MaxPositionFraction: 0.1})

	// balance 10000, entry 100, stop 99: risk 100 over distance 1.
	qty := l.Size(10000, 100, 99, 1.0)
	assert.InDelta(t, 10.0, qty, 1e-9) // capped: 10000*0.1/100 = 10

	// Wider stop: uncapped sizing.
	qty = l.Size(10000, 100, 80, 1.0)
	assert.InDelta(t, 5.0, qty, 1e-9) // 100/20
}

func TestSizeNeverExceedsNotionalCap(t *testing.T) {
	l, _ := newTestLedger(Config{MaxPositionFraction: 0.1})

	for _, tc := range []struct{ balance, entry, stop, conf float64 }{
		{10000, 100, 99.999, 1.0},
		{500, 20, 19, 0.5},
		{1e6, 30000, 29000, 1.0},
		{100, 5, 5, 1.0}, // zero stop distance falls back to StopPct
	} {
		qty := l.Size(tc.balance, tc.entry, tc.stop, tc.conf)
		assert.LessOrEqual(t, qty, tc.balance*0.1/tc.entry+1e-9,
			"balance=%g entry=%g stop=%g", tc.balance, tc.entry, tc.stop)
	}
}

func TestSizeZeroOnBadInput(t *testing.T) {
	l, _ := newTestLedger(Config{})
	assert.Zero(t, l.Size(0, 100, 99, 1))
	assert.Zero(t, l.Size(1000, 0, 99, 1))
	assert.Zero(t, l.Size(1000, 100, 99, 0))
}

func TestStopTarget(t *testing.T) {
	l, _ := newTestLedger(Config{})

	stop, target := l.StopTarget(100, domain.DirectionBuy, 2, 1.5)
	assert.InDelta(t, 97.0, stop, 1e-9)
	assert.InDelta(t, 106.0, target, 1e-9)

	stop, target = l.StopTarget(100, domain.DirectionSell, 2, 1.5)
	assert.InDelta(t, 103.0, stop, 1e-9)
	assert.InDelta(t, 94.0, target, 1e-9)
}

func TestStopTargetFallbackWithoutATR(t *testing.T) {
	l, _ := newTestLedger(Config{StopPct: 0.5})

	stop, target := l.StopTarget(100, domain.DirectionBuy, 0, 1.5)
	assert.InDelta(t, 99.5, stop, 1e-9)
	assert.InDelta(t, 101.0, target, 1e-9)
}

func TestOpenDuplicateIsNoOp(t *testing.T) {
	l, _ := newTestLedger(Config{})
	ctx := context.Background()

	l.Open(ctx, openPos("BTCUSDT", domain.DirectionBuy, 100, 1))
	l.Open(ctx, openPos("BTCUSDT", domain.DirectionSell, 200, 9))

	pos, ok := l.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBuy, pos.Direction)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
}

func TestCloseComputesDirectionalPnL(t *testing.T) {
	l, _ := newTestLedger(Config{})
	ctx := context.Background()

	l.Open(ctx, openPos("BTCUSDT", domain.DirectionBuy, 100, 2))
	pnl := l.Close(ctx, "BTCUSDT", 110)
	assert.InDelta(t, 20.0, pnl, 1e-9)

	l.Open(ctx, openPos("ETHUSDT", domain.DirectionSell, 50, 4))
	pnl = l.Close(ctx, "ETHUSDT", 45)
	assert.InDelta(t, 20.0, pnl, 1e-9)

	stats := l.Stats()
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 2, stats.Wins)
	assert.Zero(t, stats.Losses)
	assert.InDelta(t, 40.0, stats.TotalPnL, 1e-9)
	assert.Equal(t, stats.TotalTrades, stats.Wins+stats.Losses)
}

func TestCloseUnknownSymbolIsNoOp(t *testing.T) {
	l, _ := newTestLedger(Config{})

	before := l.Stats()
	pnl := l.Close(context.Background(), "NOPE", 123)
	assert.Zero(t, pnl)
	assert.Equal(t, before, l.Stats())
}

func TestPersistLoadRoundTrip(t *testing.T) {
	cfg := Config{}
	l, store := newTestLedger(cfg)
	ctx := context.Background()

	l.Open(ctx, openPos("BTCUSDT", domain.DirectionBuy, 100, 2))
	l.Open(ctx, openPos("ETHUSDT", domain.DirectionSell, 50, 4))
	l.Open(ctx, openPos("SOLUSDT", domain.DirectionBuy, 20, 10))
	l.Close(ctx, "SOLUSDT", 19) // one losing trade on the books

	restored := NewLedger(cfg, store, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, restored.Load(ctx))

	assert.Len(t, restored.Positions(), 2)
	pos, ok := restored.Position("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.DirectionSell, pos.Direction)
	assert.InDelta(t, 50.0, pos.EntryPrice, 1e-9)

	stats := restored.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, -10.0, stats.TotalPnL, 1e-9)
	assert.Greater(t, stats.CurrentDrawdown, 0.0)
}

func TestLoadFreshWhenStoreEmpty(t *testing.T) {
	l, _ := newTestLedger(Config{})
	require.NoError(t, l.Load(context.Background()))

	stats := l.Stats()
	assert.Zero(t, stats.TotalTrades)
	assert.Empty(t, l.Positions())
}

func TestLoadIgnoresStaleDate(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	// Yesterday's row with heavy losses and a pause.
	require.NoError(t, store.SaveState(ctx, domain.DailyStats{
		Date:            "2020-01-01",
		TotalTrades:     9,
		Losses:          9,
		CurrentDrawdown: 0.9,
		Paused:          true,
	}, nil))

	l := NewLedger(Config{}, store, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, l.Load(ctx))

	stats := l.Stats()
	assert.Zero(t, stats.TotalTrades)
	assert.False(t, stats.Paused)
	assert.Zero(t, stats.CurrentDrawdown)
}

func TestDateRolloverResetsStatsAndPause(t *testing.T) {
	l, _ := newTestLedger(Config{DrawdownCeiling: 0.01, DrawdownBaseline: 1000})
	ctx := context.Background()

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	l.stats = domain.DailyStats{Date: "2026-03-01"}

	l.Open(ctx, openPos("BTCUSDT", domain.DirectionBuy, 100, 2))
	l.Close(ctx, "BTCUSDT", 80)
	require.Error(t, l.CanOpen("BTCUSDT"))
	require.True(t, l.Stats().Paused)

	// Next day: counters reset, pause clears, trading resumes.
	l.now = func() time.Time { return day.Add(24 * time.Hour) }

	stats := l.Stats()
	assert.Equal(t, "2026-03-02", stats.Date)
	assert.Zero(t, stats.TotalTrades)
	assert.False(t, stats.Paused)

	assert.NoError(t, l.CanOpen("BTCUSDT"))
}

func TestWinRate(t *testing.T) {
	stats := domain.DailyStats{TotalTrades: 4, Wins: 3, Losses: 1}
	assert.InDelta(t, 0.75, stats.WinRate(), 1e-9)
	assert.Zero(t, domain.DailyStats{}.WinRate())
}

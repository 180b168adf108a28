package flow

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrader/flowtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func snap(symbol string, bidPrice, bidSize, askPrice, askSize float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    symbol,
		BidPrice:  bidPrice,
		BidSize:   bidSize,
		AskPrice:  askPrice,
		AskSize:   askSize,
		Timestamp: time.Now(),
	}
}

func TestUpdateFirstObservationReturnsZero(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	ofi := a.Update(snap("BTCUSDT", 100, 2, 101.5, 5))
	assert.Zero(t, ofi)
}

func TestUpdateBidImprovement(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101.5, 5))

	// Bid steps up to 101 with size 3, ask untouched: the full new bid size
	// counts as buying pressure and the ask contributes its size delta (0).
	ofi := a.Update(snap("BTCUSDT", 101, 3, 101.5, 5))
	assert.InDelta(t, 3.0, ofi, 1e-9)
}

func TestUpdateBidDropAndAskDrop(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	a.Update(snap("ETHUSDT", 100, 2, 101, 4))

	// Bid falls: lose the old bid size. Ask falls: aggressive selling adds
	// the full new ask size to the ask side. ofi = -2 - 6 = -8.
	ofi := a.Update(snap("ETHUSDT", 99, 7, 100.5, 6))
	assert.InDelta(t, -8.0, ofi, 1e-9)
}

func TestUpdateUnchangedPricesUsesSizeDeltas(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101, 5))

	// Same prices, bid size +3, ask size -1: ofi = 3 - (-1) = 4.
	ofi := a.Update(snap("BTCUSDT", 100, 5, 101, 4))
	assert.InDelta(t, 4.0, ofi, 1e-9)
}

func TestUpdateInvalidSnapshotIgnored(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101, 5))
	assert.Zero(t, a.Update(domain.BookSnapshot{Symbol: "BTCUSDT", BidPrice: 100, BidSize: 2}))

	// State was not advanced by the invalid snapshot.
	ofi := a.Update(snap("BTCUSDT", 100, 4, 101, 5))
	assert.InDelta(t, 2.0, ofi, 1e-9)
}

func TestResetForcesReprime(t *testing.T) {
	a := NewAnalyzer(Config{}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101, 5))
	a.Update(snap("BTCUSDT", 101, 3, 101.5, 5))

	a.Reset("BTCUSDT")

	// First update after reset primes state again and returns 0.
	assert.Zero(t, a.Update(snap("BTCUSDT", 102, 4, 102.5, 5)))
}

func TestZScoreNeedsMinimumSamples(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101, 5))
	for i := 0; i < 10; i++ {
		a.Update(snap("BTCUSDT", 100, float64(2+i%2), 101, 5))
	}

	assert.Zero(t, a.ZScore("BTCUSDT", 50))
	assert.Zero(t, a.ZScore("UNKNOWN", 50))
}

func TestZScoreZeroVariance(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())

	// Bid size grows by exactly 1 on every update: every OFI sample is +1.
	a.Update(snap("BTCUSDT", 100, 2, 101, 5))
	for i := 1; i <= 25; i++ {
		a.Update(snap("BTCUSDT", 100, float64(2+i), 101, 5))
	}

	assert.Zero(t, a.ZScore("BTCUSDT", 10))
}

// warmAnalyzer feeds alternating +1/-1 OFI samples so the history has mean 0
// and standard deviation 1.
func warmAnalyzer(t *testing.T, a *Analyzer, symbol string, n int) {
	t.Helper()
	a.Update(snap(symbol, 100, 2, 101, 5))
	for i := 0; i < n; i++ {
		size := 3.0
		if i%2 == 1 {
			size = 2.0
		}
		a.Update(snap(symbol, 100, size, 101, 5))
	}
}

func TestZScoreStandardizes(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())
	warmAnalyzer(t, a, "BTCUSDT", 24)

	z := a.ZScore("BTCUSDT", 5)
	assert.InDelta(t, 5.0, z, 1e-9)
}

func TestClassifyBuyBelowVWAP(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())
	warmAnalyzer(t, a, "BTCUSDT", 24)

	sig := a.Classify("BTCUSDT", 5, 100, 102)
	require.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.InDelta(t, 1.0, sig.Strength, 1e-9)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Greater(t, sig.Target, sig.Entry)
	assert.Less(t, sig.Stop, sig.Entry)
	assert.InDelta(t, 5.0, sig.Features["zscore"], 1e-9)
}

func TestClassifyBuyMomentumCapped(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())
	warmAnalyzer(t, a, "BTCUSDT", 24)

	// Price above VWAP: momentum-only entry is capped at 0.7.
	sig := a.Classify("BTCUSDT", 5, 103, 102)
	require.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.InDelta(t, 0.7, sig.Strength, 1e-9)
}

func TestClassifySellAboveVWAP(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())
	warmAnalyzer(t, a, "BTCUSDT", 24)

	sig := a.Classify("BTCUSDT", -5, 103, 102)
	require.Equal(t, domain.DirectionSell, sig.Direction)
	assert.InDelta(t, 1.0, sig.Strength, 1e-9)
	assert.Less(t, sig.Target, sig.Entry)
	assert.Greater(t, sig.Stop, sig.Entry)
}

func TestClassifyWeakFlowIsNone(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())
	warmAnalyzer(t, a, "BTCUSDT", 24)

	sig := a.Classify("BTCUSDT", 1, 100, 102)
	assert.Equal(t, domain.DirectionNone, sig.Direction)
	assert.Zero(t, sig.Strength)
}

func TestClassifyBeforeWarmupIsNone(t *testing.T) {
	a := NewAnalyzer(Config{MinSamples: 20}, testLogger())

	sig := a.Classify("BTCUSDT", 100, 100, 102)
	assert.Equal(t, domain.DirectionNone, sig.Direction)
}

func TestHistoryBounded(t *testing.T) {
	a := NewAnalyzer(Config{HistorySize: 5, MinSamples: 3}, testLogger())

	a.Update(snap("BTCUSDT", 100, 2, 101, 5))
	for i := 1; i <= 50; i++ {
		a.Update(snap("BTCUSDT", 100, float64(2+i%3), 101, 5))
	}

	a.mu.Lock()
	n := len(a.states["BTCUSDT"].history)
	a.mu.Unlock()
	assert.Equal(t, 5, n)
}

func TestVWAPTracker(t *testing.T) {
	v := NewVWAPTracker(10)

	assert.Zero(t, v.VWAP("BTCUSDT"))

	v.Observe("BTCUSDT", 100, 1)
	v.Observe("BTCUSDT", 102, 1)
	assert.InDelta(t, 101.0, v.VWAP("BTCUSDT"), 1e-9)

	// Volume-weighted, not a simple mean.
	v.Observe("BTCUSDT", 110, 2)
	assert.InDelta(t, (100+102+220)/4.0, v.VWAP("BTCUSDT"), 1e-9)
}

func TestVWAPTrackerBoundedWindow(t *testing.T) {
	v := NewVWAPTracker(2)

	v.Observe("BTCUSDT", 50, 1)
	v.Observe("BTCUSDT", 100, 1)
	v.Observe("BTCUSDT", 102, 1)

	// Oldest observation fell out of the window.
	assert.InDelta(t, 101.0, v.VWAP("BTCUSDT"), 1e-9)
}

func TestVWAPTrackerIgnoresBadInput(t *testing.T) {
	v := NewVWAPTracker(10)
	v.Observe("BTCUSDT", -1, 1)
	v.Observe("BTCUSDT", 100, 0)
	assert.Zero(t, v.VWAP("BTCUSDT"))
}

func TestSpreadHelper(t *testing.T) {
	assert.InDelta(t, 1.0, Spread(snap("BTCUSDT", 100, 1, 101, 1)), 1e-9)
	assert.Zero(t, Spread(domain.BookSnapshot{}))
}

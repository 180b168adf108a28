package flow

import (
	"sync"

	"github.com/flowtrader/flowtrader/internal/domain"
)

type trade struct {
	price float64
	size  float64
}

// VWAPTracker maintains a rolling volume-weighted average price per symbol
// over a bounded trade window.
type VWAPTracker struct {
	mu     sync.Mutex
	window int
	trades map[string][]trade
}

// NewVWAPTracker creates a tracker keeping at most window observations per
// symbol. Non-positive windows default to 500.
func NewVWAPTracker(window int) *VWAPTracker {
	if window <= 0 {
		window = 500
	}
	return &VWAPTracker{
		window: window,
		trades: make(map[string][]trade),
	}
}

// Observe records a trade. Zero or negative sizes are ignored.
func (t *VWAPTracker) Observe(symbol string, price, size float64) {
	if price <= 0 || size <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := append(t.trades[symbol], trade{price: price, size: size})
	if len(ts) > t.window {
		ts = ts[len(ts)-t.window:]
	}
	t.trades[symbol] = ts
}

// VWAP returns the volume-weighted average price over the window, or 0 when
// no trades have been observed.
func (t *VWAPTracker) VWAP(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var notional, volume float64
	for _, tr := range t.trades[symbol] {
		notional += tr.price * tr.size
		volume += tr.size
	}
	if volume == 0 {
		return 0
	}
	return notional / volume
}

// Reset drops the trade window for symbol.
func (t *VWAPTracker) Reset(symbol string) {
	t.mu.Lock()
	delete(t.trades, symbol)
	t.mu.Unlock()
}

// Spread returns the percentage bid-ask spread of a snapshot, 0 when either
// side is empty.
func Spread(snap domain.BookSnapshot) float64 {
	if !snap.Valid() {
		return 0
	}
	return snap.SpreadPct()
}

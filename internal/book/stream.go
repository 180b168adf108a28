// Package book keeps the latest top-of-book state per symbol and answers
// best-price lookups for the execution layer.
package book

import (
	"log/slog"
	"sync"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Stream retains the most recent BookSnapshot for each symbol. The feed
// goroutine writes; the orchestrator and the chase loop read concurrently.
type Stream struct {
	mu     sync.RWMutex
	books  map[string]domain.BookSnapshot
	logger *slog.Logger
}

// NewStream creates an empty Stream.
func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		books:  make(map[string]domain.BookSnapshot),
		logger: logger.With(slog.String("component", "book_stream")),
	}
}

// Update stores the snapshot as the latest state for its symbol. Invalid
// snapshots are dropped so a half-empty book never overwrites a good one.
func (s *Stream) Update(snap domain.BookSnapshot) {
	if !snap.Valid() {
		s.logger.Debug("dropping invalid book snapshot", slog.String("symbol", snap.Symbol))
		return
	}
	s.mu.Lock()
	s.books[snap.Symbol] = snap
	s.mu.Unlock()
}

// Snapshot returns the latest snapshot for symbol, or ErrNotFound when the
// symbol has never been seen.
func (s *Stream) Snapshot(symbol string) (domain.BookSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.books[symbol]
	s.mu.RUnlock()
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// BestPrice returns the price a passive order on the given side should quote
// at: the best bid for buys, the best ask for sells. ErrNotFound when the
// book is unknown or the relevant side is empty.
func (s *Stream) BestPrice(symbol string, side domain.OrderSide) (float64, error) {
	snap, err := s.Snapshot(symbol)
	if err != nil {
		return 0, err
	}
	switch side {
	case domain.OrderSideBuy:
		if snap.BidPrice <= 0 {
			return 0, domain.ErrNotFound
		}
		return snap.BidPrice, nil
	case domain.OrderSideSell:
		if snap.AskPrice <= 0 {
			return 0, domain.ErrNotFound
		}
		return snap.AskPrice, nil
	default:
		return 0, domain.ErrNotFound
	}
}

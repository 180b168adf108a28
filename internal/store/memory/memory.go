// Package memory provides an in-process LedgerStore for simulation mode and
// tests. Semantics mirror the postgres implementation: stats rows are keyed
// by date, SaveState replaces the open-position set atomically.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// Store is an in-memory LedgerStore. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	stats     map[string]domain.DailyStats
	positions []domain.Position
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{stats: make(map[string]domain.DailyStats)}
}

// SaveState upserts the stats row for its date and replaces the open-position
// set.
func (s *Store) SaveState(_ context.Context, stats domain.DailyStats, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats[stats.Date] = stats
	s.positions = make([]domain.Position, len(positions))
	copy(s.positions, positions)
	return nil
}

// LoadStats returns the stats row for date, or ErrNotFound.
func (s *Store) LoadStats(_ context.Context, date string) (domain.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.stats[date]
	if !ok {
		return domain.DailyStats{}, domain.ErrNotFound
	}
	return stats, nil
}

// LoadOpenPositions returns a copy of the stored open positions.
func (s *Store) LoadOpenPositions(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

// ListStatsBefore returns all stats rows strictly older than date, oldest
// first.
func (s *Store) ListStatsBefore(_ context.Context, date string) ([]domain.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DailyStats
	for d, stats := range s.stats {
		if d < date {
			out = append(out, stats)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// DeleteStatsBefore removes stats rows strictly older than date.
func (s *Store) DeleteStatsBefore(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for d := range s.stats {
		if d < date {
			delete(s.stats, d)
		}
	}
	return nil
}

package domain

import "context"

// LedgerStore persists the two durable relations of the engine: one
// DailyStats row per calendar date and one row per currently-open position.
// SaveState writes both transactionally so a crash can never observe stats
// without the matching position set.
type LedgerStore interface {
	SaveState(ctx context.Context, stats DailyStats, positions []Position) error
	LoadStats(ctx context.Context, date string) (DailyStats, error)
	LoadOpenPositions(ctx context.Context) ([]Position, error)

	// ListStatsBefore returns all stats rows strictly older than date,
	// oldest first. Used by the archiver.
	ListStatsBefore(ctx context.Context, date string) ([]DailyStats, error)

	// DeleteStatsBefore removes stats rows strictly older than date.
	DeleteStatsBefore(ctx context.Context, date string) error
}

// SignalFeed exposes the bounded recent-signal history to the presentation
// layer.
type SignalFeed interface {
	Publish(ctx context.Context, sig Signal) error
	Recent(ctx context.Context, limit int) ([]Signal, error)
}

// StatsPublisher pushes daily statistics snapshots to subscribers
// (dashboards, alerting) on every ledger mutation.
type StatsPublisher interface {
	PublishStats(ctx context.Context, stats DailyStats) error
}

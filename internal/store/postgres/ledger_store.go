package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Stats rows are
// keyed by calendar date; open positions live in their own table keyed by
// symbol.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// SaveState upserts the daily stats row and replaces the full open-position
// set in one transaction, so a crash can never leave stats and positions out
// of step.
func (s *LedgerStore) SaveState(ctx context.Context, stats domain.DailyStats, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save state: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertStats = `
		INSERT INTO daily_stats (
			date, total_trades, wins, losses, total_pnl,
			max_drawdown, current_drawdown, is_paused, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (date) DO UPDATE SET
			total_trades     = EXCLUDED.total_trades,
			wins             = EXCLUDED.wins,
			losses           = EXCLUDED.losses,
			total_pnl        = EXCLUDED.total_pnl,
			max_drawdown     = EXCLUDED.max_drawdown,
			current_drawdown = EXCLUDED.current_drawdown,
			is_paused        = EXCLUDED.is_paused,
			updated_at       = NOW()`

	if _, err := tx.Exec(ctx, upsertStats,
		stats.Date, stats.TotalTrades, stats.Wins, stats.Losses, stats.TotalPnL,
		stats.MaxDrawdown, stats.CurrentDrawdown, stats.Paused,
	); err != nil {
		return fmt.Errorf("postgres: upsert daily stats %s: %w", stats.Date, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM open_positions"); err != nil {
		return fmt.Errorf("postgres: clear open positions: %w", err)
	}

	const insertPos = `
		INSERT INTO open_positions (
			symbol, direction, entry_price, quantity,
			stop_loss, take_profit, entry_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	for _, p := range positions {
		if _, err := tx.Exec(ctx, insertPos,
			p.Symbol, string(p.Direction), p.EntryPrice, p.Quantity,
			p.StopLoss, p.TakeProfit, p.EntryTime,
		); err != nil {
			return fmt.Errorf("postgres: insert open position %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save state: %w", err)
	}
	return nil
}

// LoadStats returns the stats row for date, or domain.ErrNotFound.
func (s *LedgerStore) LoadStats(ctx context.Context, date string) (domain.DailyStats, error) {
	const query = `
		SELECT date, total_trades, wins, losses, total_pnl,
		       max_drawdown, current_drawdown, is_paused
		FROM daily_stats WHERE date = $1`

	stats, err := scanStats(s.pool.QueryRow(ctx, query, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyStats{}, domain.ErrNotFound
		}
		return domain.DailyStats{}, fmt.Errorf("postgres: load stats %s: %w", date, err)
	}
	return stats, nil
}

// LoadOpenPositions returns every stored open position.
func (s *LedgerStore) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT symbol, direction, entry_price, quantity,
		       stop_loss, take_profit, entry_time
		FROM open_positions ORDER BY entry_time`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var direction string
		if err := rows.Scan(
			&p.Symbol, &direction, &p.EntryPrice, &p.Quantity,
			&p.StopLoss, &p.TakeProfit, &p.EntryTime,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		p.Direction = domain.Direction(direction)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read open positions: %w", err)
	}
	return positions, nil
}

// ListStatsBefore returns all stats rows strictly older than date, oldest
// first.
func (s *LedgerStore) ListStatsBefore(ctx context.Context, date string) ([]domain.DailyStats, error) {
	const query = `
		SELECT date, total_trades, wins, losses, total_pnl,
		       max_drawdown, current_drawdown, is_paused
		FROM daily_stats WHERE date < $1 ORDER BY date`

	rows, err := s.pool.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stats before %s: %w", date, err)
	}
	defer rows.Close()

	var out []domain.DailyStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stats row: %w", err)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read stats rows: %w", err)
	}
	return out, nil
}

// DeleteStatsBefore removes stats rows strictly older than date.
func (s *LedgerStore) DeleteStatsBefore(ctx context.Context, date string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM daily_stats WHERE date < $1", date); err != nil {
		return fmt.Errorf("postgres: delete stats before %s: %w", date, err)
	}
	return nil
}

func scanStats(row pgx.Row) (domain.DailyStats, error) {
	var stats domain.DailyStats
	var day time.Time
	if err := row.Scan(
		&day, &stats.TotalTrades, &stats.Wins, &stats.Losses, &stats.TotalPnL,
		&stats.MaxDrawdown, &stats.CurrentDrawdown, &stats.Paused,
	); err != nil {
		return domain.DailyStats{}, err
	}
	stats.Date = day.Format("2006-01-02")
	return stats, nil
}

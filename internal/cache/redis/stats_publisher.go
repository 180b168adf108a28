package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowtrader/flowtrader/internal/domain"
)

const statsChannel = "flowtrader:stats"

// StatsPublisher pushes DailyStats snapshots to a pub/sub channel so
// dashboards can follow the day's performance live.
type StatsPublisher struct {
	rdb *redis.Client
}

// NewStatsPublisher creates a StatsPublisher backed by the given Client.
func NewStatsPublisher(c *Client) *StatsPublisher {
	return &StatsPublisher{rdb: c.rdb}
}

// PublishStats sends the stats snapshot as JSON.
func (p *StatsPublisher) PublishStats(ctx context.Context, stats domain.DailyStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", stats.Date, err)
	}
	if err := p.rdb.Publish(ctx, statsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish stats %s: %w", stats.Date, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsPublisher = (*StatsPublisher)(nil)

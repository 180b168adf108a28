package redis

import (
	"context"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// NopSignalFeed is a no-op SignalFeed for runs without Redis configured
// (simulation mode). Publish discards; Recent is always empty.
type NopSignalFeed struct{}

func (NopSignalFeed) Publish(context.Context, domain.Signal) error { return nil }

func (NopSignalFeed) Recent(context.Context, int) ([]domain.Signal, error) { return nil, nil }

// NopStatsPublisher is a no-op StatsPublisher.
type NopStatsPublisher struct{}

func (NopStatsPublisher) PublishStats(context.Context, domain.DailyStats) error { return nil }

var (
	_ domain.SignalFeed     = NopSignalFeed{}
	_ domain.StatsPublisher = NopStatsPublisher{}
)

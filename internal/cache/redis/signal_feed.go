package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowtrader/flowtrader/internal/domain"
)

const (
	signalListKey = "flowtrader:signals:recent"
	signalFeedCap = 50
)

// SignalFeed keeps the most recent signals in a bounded Redis list for the
// presentation layer. Newest first; the list is trimmed to 50 entries on
// every publish.
type SignalFeed struct {
	rdb *redis.Client
}

// NewSignalFeed creates a SignalFeed backed by the given Client.
func NewSignalFeed(c *Client) *SignalFeed {
	return &SignalFeed{rdb: c.rdb}
}

// Publish prepends the signal to the recent list and trims the tail.
func (f *SignalFeed) Publish(ctx context.Context, sig domain.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", sig.ID, err)
	}

	pipe := f.rdb.TxPipeline()
	pipe.LPush(ctx, signalListKey, data)
	pipe.LTrim(ctx, signalListKey, 0, signalFeedCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish signal %s: %w", sig.ID, err)
	}
	return nil
}

// Recent returns up to limit signals, newest first. Non-positive or oversized
// limits are clamped to the feed capacity.
func (f *SignalFeed) Recent(ctx context.Context, limit int) ([]domain.Signal, error) {
	if limit <= 0 || limit > signalFeedCap {
		limit = signalFeedCap
	}

	raw, err := f.rdb.LRange(ctx, signalListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read recent signals: %w", err)
	}

	signals := make([]domain.Signal, 0, len(raw))
	for _, item := range raw {
		var sig domain.Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			// A malformed entry is skipped rather than poisoning the feed.
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// Compile-time interface check.
var _ domain.SignalFeed = (*SignalFeed)(nil)

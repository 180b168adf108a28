package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/flowtrader/flowtrader/internal/blob/s3"
	"github.com/flowtrader/flowtrader/internal/cache/redis"
	"github.com/flowtrader/flowtrader/internal/config"
	"github.com/flowtrader/flowtrader/internal/domain"
	"github.com/flowtrader/flowtrader/internal/notify"
	"github.com/flowtrader/flowtrader/internal/store/memory"
	"github.com/flowtrader/flowtrader/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes need. Wire constructs
// the concrete implementations; the returned cleanup releases them in reverse
// order.
type Dependencies struct {
	Store    domain.LedgerStore
	Feed     domain.SignalFeed
	StatsPub domain.StatsPublisher
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire builds the infrastructure layer from cfg. Trade mode requires
// Postgres; sim mode runs on the in-memory store. Redis is mandatory in trade
// mode and best-effort in sim mode, where a failed connection degrades to
// no-op publishers.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	liveMode := strings.ToLower(cfg.Mode) == "trade"

	if liveMode {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Store = postgres.NewLedgerStore(pgClient.Pool())
	} else {
		deps.Store = memory.NewStore()
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	switch {
	case err == nil:
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Feed = redis.NewSignalFeed(redisClient)
		deps.StatsPub = redis.NewStatsPublisher(redisClient)
	case liveMode:
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	default:
		logger.Warn("redis unavailable, signal feed disabled",
			slog.String("addr", cfg.Redis.Addr),
			slog.String("error", err.Error()))
		deps.Feed = redis.NopSignalFeed{}
		deps.StatsPub = redis.NopStatsPublisher{}
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(deps.Store, s3Client, cfg.S3.RetentionDays, logger)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

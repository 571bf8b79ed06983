package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sidestake/sidestake/internal/cache/redis"
	"github.com/sidestake/sidestake/internal/config"
	"github.com/sidestake/sidestake/internal/domain"
	"github.com/sidestake/sidestake/internal/metrics"
	"github.com/sidestake/sidestake/internal/notify"
	"github.com/sidestake/sidestake/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores           domain.Stores
	Tx               domain.TxRunner
	LeaderboardStore domain.LeaderboardStore

	// Redis-backed; nil when Redis is not configured.
	LeaderboardCache domain.LeaderboardCache
	RateLimiter      domain.RateLimiter
	Bus              domain.EventBus

	Notifier *notify.Notifier

	// HealthChecks probe the wired backends for the /healthz endpoint.
	HealthChecks []metrics.HealthFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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

	pool := pgClient.Pool()
	deps.Stores = postgres.Stores(pool)
	deps.Tx = postgres.NewTxRunner(pool)
	deps.LeaderboardStore = postgres.NewLeaderboardStore(pool)
	deps.HealthChecks = append(deps.HealthChecks, pgClient.Ping)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LeaderboardCache = redis.NewLeaderboardCache(redisClient, cfg.Cache.LeaderboardTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
		deps.HealthChecks = append(deps.HealthChecks, redisClient.Ping)
	} else {
		logger.Warn("wire: redis not configured; cache, rate limiting, and live updates disabled")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

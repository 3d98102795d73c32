package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/clobwatch/internal/blob/s3"
	"github.com/alanyoungcy/clobwatch/internal/cache/redis"
	"github.com/alanyoungcy/clobwatch/internal/config"
	"github.com/alanyoungcy/clobwatch/internal/domain"
	"github.com/alanyoungcy/clobwatch/internal/notify"
	"github.com/alanyoungcy/clobwatch/internal/store/postgres"
)

// Dependencies bundles the infrastructure both run modes need. The Redis
// fields are always populated; store and blob fields stay nil when their
// subsystem is not configured, and every consumer gates on that.
type Dependencies struct {
	// Caches, bus, and locks (Redis, required)
	BookCache   domain.OrderbookCache
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Locks       domain.LockManager

	// Stores (Postgres, optional)
	AlertStore domain.AlertStore
	AuditStore domain.AuditStore

	// Blob storage (S3, optional)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifications. Always constructed; with no channels configured it
	// simply has nothing to send to.
	Notifier *notify.Notifier

	// Health holds connectivity probes for the wired backends, keyed by
	// dependency name, consumed by the API health endpoint.
	Health map[string]func(ctx context.Context) error
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Health: make(map[string]func(ctx context.Context) error),
	}

	// --- Redis (required) ---
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

	deps.BookCache = redis.NewOrderbookCache(redisClient)
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient, 3*cfg.Watch.CatalogRefresh.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Health["redis"] = redisClient.Ping

	// --- PostgreSQL (optional; alert history and audit log) ---
	if cfg.Postgres.Enabled {
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
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping
	}

	// --- S3 blob storage (optional; alert and book archival) ---
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
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket check: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health
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
	minSeverity, err := domain.ParseSeverity(cfg.Notify.MinSeverity)
	if err != nil {
		// Validate catches this before Wire runs; fail loudly if it did not.
		cleanup()
		return nil, nil, fmt.Errorf("wire: notify: %w", err)
	}
	deps.Notifier = notify.NewNotifier(senders, minSeverity, logger)

	return deps, cleanup, nil
}

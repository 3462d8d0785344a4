package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bithumbbot/internal/blob/s3"
	"github.com/alanyoungcy/bithumbbot/internal/cache/redis"
	"github.com/alanyoungcy/bithumbbot/internal/config"
	"github.com/alanyoungcy/bithumbbot/internal/crypto"
	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/alanyoungcy/bithumbbot/internal/notify"
	"github.com/alanyoungcy/bithumbbot/internal/platform/bithumb"
	"github.com/alanyoungcy/bithumbbot/internal/ratelimit"
	"github.com/alanyoungcy/bithumbbot/internal/store/file"
	"github.com/alanyoungcy/bithumbbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. Optional members (Postgres stores, Redis caches,
// the archiver) are nil when the corresponding backend is not configured;
// the modes degrade accordingly.
type Dependencies struct {
	Exchange  *bithumb.Client
	Positions domain.PositionStore

	// Journal (nil without Postgres).
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Shared state (nil without Redis).
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus
	Locks      domain.LockManager

	// Cold storage (nil without S3).
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (optional; shared cache, signal bus, locks, limiter) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		redisClient = rc
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- Exchange client ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Exchange.APISecret,
		EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
		SecretPassword:      cfg.Exchange.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load API secret: %w", err)
	}
	auth := &crypto.HMACAuth{Key: cfg.Exchange.APIKey, Secret: secret}

	var limiter domain.CallLimiter
	if cfg.RateLimit.Distributed && redisClient != nil {
		limiter = redis.NewCallLimiter(redisClient, "bithumb", cfg.RateLimit.MaxCalls, cfg.RateLimit.Window.Duration)
	} else {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window.Duration)
	}

	retry := ratelimit.Policy{
		MaxAttempts:   cfg.RateLimit.RetryMaxAttempts,
		BaseDelay:     cfg.RateLimit.RetryBaseDelay.Duration,
		MaxDelay:      cfg.RateLimit.RetryMaxDelay.Duration,
		RateLimitMult: ratelimit.DefaultPolicy().RateLimitMult,
	}

	deps.Exchange = bithumb.NewClient(bithumb.Config{
		BaseURL:         cfg.Exchange.BaseURL,
		PaymentCurrency: cfg.Exchange.QuoteCurrency,
		Timeout:         cfg.Exchange.Timeout.Duration,
	}, auth, limiter, retry, logger)

	// --- Position store (always file-backed, crash safe) ---
	positions, err := file.New(cfg.Positions.Path, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: position store: %w", err)
	}
	deps.Positions = positions

	// --- PostgreSQL journal (optional) ---
	if cfg.Postgres.Enabled() {
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
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- S3 archive (optional; needs the Postgres journal to archive from) ---
	if cfg.S3.Enabled() {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.TradeStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.TradeStore, deps.AuditStore, logger)
		}
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

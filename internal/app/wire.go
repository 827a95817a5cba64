package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/valentinrey/fundingbot/internal/blob/s3"
	"github.com/valentinrey/fundingbot/internal/cache/redis"
	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/crypto"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/exchange/hyperliquid"
	"github.com/valentinrey/fundingbot/internal/exchange/orderly"
	"github.com/valentinrey/fundingbot/internal/notify"
	"github.com/valentinrey/fundingbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	FundingStore   domain.FundingStore
	PositionStore  domain.ArbPositionStore
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches and coordination
	FundingCache     domain.FundingCache
	OpportunityCache domain.OpportunityCache
	RateLimiter      domain.RateLimiter
	LockManager      domain.LockManager
	SignalBus        domain.SignalBus

	// Venues
	Exchanges []exchange.Exchange
	Venues    map[string]exchange.Exchange

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Raw clients, kept for health probes.
	Postgres *postgres.Client
	Redis    *redis.Client
}

// needsExchanges returns true for modes that talk to the venues.
func needsExchanges(mode string) bool {
	switch mode {
	case "trade", "collect", "monitor", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

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
	deps.Postgres = pgClient
	deps.FundingStore = postgres.NewFundingStore(pool)
	deps.PositionStore = postgres.NewArbPositionStore(pool)
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}

	deps.Redis = redisClient
	deps.FundingCache = redis.NewFundingCache(redisClient, cfg.Redis.CacheTTL.Duration)
	deps.OpportunityCache = redis.NewOpportunityCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, streamMaxLen)

	// --- Exchange clients ---
	if needsExchanges(mode) {
		orderlyClient, err := orderly.NewClient(cfg.Orderly)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: orderly: %w", err)
		}

		hlCfg := cfg.Hyperliquid
		key, err := crypto.ResolveKey(crypto.KeySource{
			RawKey:      hlCfg.PrivateKey,
			KeyfilePath: hlCfg.EncryptedKeyPath,
			Password:    hlCfg.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: hyperliquid key: %w", err)
		}
		hlCfg.PrivateKey = key

		hlClient, err := hyperliquid.NewClient(hlCfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: hyperliquid: %w", err)
		}

		deps.Exchanges = []exchange.Exchange{orderlyClient, hlClient}
		deps.Venues = map[string]exchange.Exchange{
			orderlyClient.Name(): orderlyClient,
			hlClient.Name():      hlClient,
		}
	}

	// --- S3 blob storage ---
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.FundingStore,
				deps.ExecutionStore,
				deps.AuditStore,
				logger,
			)
		}
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/chainbazaar/marketd/internal/blob/s3"
	"github.com/chainbazaar/marketd/internal/cache/redis"
	"github.com/chainbazaar/marketd/internal/config"
	"github.com/chainbazaar/marketd/internal/crypto"
	"github.com/chainbazaar/marketd/internal/domain"
	"github.com/chainbazaar/marketd/internal/registry/eth"
	"github.com/chainbazaar/marketd/internal/registry/memory"
	"github.com/chainbazaar/marketd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// External registries the oracle and engine consult.
	Assets    domain.AssetRegistry
	Payments  domain.PaymentRegistry
	Royalties domain.RoyaltyRegistry

	// Operator is the marketplace owner address: the wallet address in
	// serve mode, the configured address in sim mode.
	Operator common.Address

	// Stores
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Redis-backed plumbing
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage; nil unless the archiver is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Health probes by dependency name.
	HealthChecks map[string]func(ctx context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]func(ctx context.Context) error),
	}

	// --- External registries ---
	switch strings.ToLower(cfg.Mode) {
	case "serve":
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load operator key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, big.NewInt(cfg.Chain.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}

		ethClient, err := eth.Dial(ctx, cfg.Chain.RPCURL, signer, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain rpc: %w", err)
		}
		closers = append(closers, ethClient.Close)

		deps.Assets = eth.NewAssetClient(ethClient)
		deps.Payments = eth.NewPaymentClient(ethClient, common.HexToAddress(cfg.Chain.PaymentToken))
		deps.Royalties = eth.NewRoyaltyClient(ethClient, common.HexToAddress(cfg.Chain.RoyaltyRegistry))
		deps.Operator = signer.Address()

	case "sim":
		deps.Operator = common.HexToAddress(cfg.Market.Operator)
		deps.Assets = memory.NewAssetLedger()
		deps.Payments = memory.NewPaymentLedger(deps.Operator)
		deps.Royalties = memory.NewRoyaltyLedger()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported mode %q", cfg.Mode)
	}

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
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = func(ctx context.Context) error {
		return pool.Ping(ctx)
	}

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

	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 blob storage (only when the archiver runs) ---
	if cfg.Archive.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

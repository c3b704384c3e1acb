package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/veilmarket/veilmarket/internal/blob/s3"
	redisc "github.com/veilmarket/veilmarket/internal/cache/redis"
	"github.com/veilmarket/veilmarket/internal/config"
	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/fhe"
	"github.com/veilmarket/veilmarket/internal/ledger"
	"github.com/veilmarket/veilmarket/internal/notify"
	"github.com/veilmarket/veilmarket/internal/store/postgres"
)

// Dependencies holds every wired component. Fields that a mode does not need
// are left nil; seed mode only carries the engine.
type Dependencies struct {
	PG    *postgres.Client
	Redis *redisc.Client

	Markets domain.MarketStore
	Bets    domain.BetStore
	Audit   domain.AuditStore

	Cache   *redisc.MarketCache
	Limiter *redisc.RateLimiter
	Locks   *redisc.LockManager
	Bus     *redisc.SignalBus

	BlobWriter *s3blob.Writer
	BlobReader *s3blob.Reader
	Archiver   *s3blob.ArchiveImpl

	Notifier *notify.Notifier

	Coprocessor domain.Coprocessor
	Engine      *fhe.Engine
	Ledger      *ledger.Core
}

// Wire constructs all dependencies for the configured mode. It returns the
// dependency container and a cleanup function that closes every opened
// resource in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)

	// The coprocessor backend is shared by the ledger (verify, settle) and
	// the embedded client SDK (encrypt). In local mode both sides must see
	// the same handle space, so one instance serves both.
	cop, err := buildCoprocessor(cfg)
	if err != nil {
		return fail(err)
	}
	deps.Coprocessor = cop

	engine, err := fhe.NewEngine(cfg.Chain.ChainID, cop)
	if err != nil {
		return fail(fmt.Errorf("app: fhe engine: %w", err))
	}
	deps.Engine = engine

	// Seed mode talks to a remote node over HTTP and needs no local
	// infrastructure.
	if mode == "seed" {
		return deps, cleanup, nil
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		return fail(fmt.Errorf("app: postgres: %w", err))
	}
	closers = append(closers, pg.Close)
	deps.PG = pg

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("app: migrations: %w", err))
		}
	}

	deps.Markets = postgres.NewMarketStore(pg.Pool())
	deps.Bets = postgres.NewBetStore(pg.Pool())
	deps.Audit = postgres.NewAuditStore(pg.Pool())

	rdb, err := redisc.New(ctx, redisc.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("app: redis: %w", err))
	}
	closers = append(closers, func() { _ = rdb.Close() })
	deps.Redis = rdb

	deps.Cache = redisc.NewMarketCache(rdb)
	deps.Limiter = redisc.NewRateLimiter(rdb)
	deps.Locks = redisc.NewLockManager(rdb)
	deps.Bus = redisc.NewSignalBus(rdb)

	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3c.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3c)
		deps.BlobReader = s3blob.NewReader(s3c)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Markets, deps.Bets, deps.Audit)
	}

	deps.Notifier = buildNotifier(cfg, logger)

	creationFee, ok := new(big.Int).SetString(cfg.Ledger.CreationFeeWei, 10)
	if !ok {
		return fail(fmt.Errorf("app: invalid creation fee %q", cfg.Ledger.CreationFeeWei))
	}

	core, err := ledger.New(ledger.Config{
		ChainID:         cfg.Chain.ChainID,
		BettingContract: common.HexToAddress(cfg.Chain.BettingContract),
		CreationFee:     creationFee,
		PlatformFeeBps:  cfg.Ledger.PlatformFeeBps,
	}, deps.Markets, deps.Bets, deps.Audit, cop, deps.Cache, deps.Bus, deps.Locks, logger)
	if err != nil {
		return fail(fmt.Errorf("app: ledger: %w", err))
	}
	deps.Ledger = core

	if cfg.S3.Enabled {
		// A record from a previous run that names a different contract means
		// this node is about to serve a different deployment under the same
		// chain id; clients resolving the old record would hit the wrong
		// contract.
		if prev, err := s3blob.ReadDeployment(ctx, deps.BlobReader, cfg.Chain.ChainID); err == nil {
			if prev.BettingContract != cfg.Chain.BettingContract {
				logger.WarnContext(ctx, "contract binding changed since last deployment record",
					slog.String("previous", prev.BettingContract),
					slog.String("current", cfg.Chain.BettingContract),
				)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "deployment record read failed",
				slog.String("error", err.Error()),
			)
		}

		info := s3blob.DeploymentInfo{
			ChainID:         cfg.Chain.ChainID,
			BettingContract: cfg.Chain.BettingContract,
			CreationFeeWei:  cfg.Ledger.CreationFeeWei,
			PlatformFeeBps:  cfg.Ledger.PlatformFeeBps,
		}
		if err := s3blob.WriteDeployment(ctx, deps.BlobWriter, info); err != nil {
			// Non-fatal: the node can serve without the discovery record.
			logger.WarnContext(ctx, "deployment record write failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return deps, cleanup, nil
}

// fheBackend combines the ledger's homomorphic surface with the client-side
// input encryption surface. Both the local simulator and the relayer client
// implement it.
type fheBackend interface {
	domain.Coprocessor
	fhe.Encryptor
}

// buildCoprocessor selects the FHE backend: an in-process simulator for local
// development, or the HMAC-authenticated relayer service.
func buildCoprocessor(cfg *config.Config) (fheBackend, error) {
	if cfg.Relayer.Local {
		secret := fmt.Sprintf("veilmarket-local-%d", cfg.Chain.ChainID)
		return fhe.NewLocalBackend([]byte(secret)), nil
	}

	if cfg.Relayer.URL == "" {
		return nil, fmt.Errorf("app: relayer url required when local mode is off")
	}
	var auth *crypto.HMACAuth
	if cfg.Relayer.HMACKey != "" {
		auth = &crypto.HMACAuth{Key: cfg.Relayer.HMACKey, Secret: cfg.Relayer.HMACSecret}
	}
	return fhe.NewRelayerClient(cfg.Relayer.URL, auth), nil
}

// buildNotifier assembles the configured notification senders. A notifier
// with zero senders is valid and silently drops events.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}

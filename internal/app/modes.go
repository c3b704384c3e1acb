package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilmarket/veilmarket/internal/client"
	"github.com/veilmarket/veilmarket/internal/fhe"
	"github.com/veilmarket/veilmarket/internal/notify"
	"github.com/veilmarket/veilmarket/internal/seed"
	"github.com/veilmarket/veilmarket/internal/server"
	"github.com/veilmarket/veilmarket/internal/server/handler"
	"github.com/veilmarket/veilmarket/internal/server/ws"
)

// shutdownTimeout bounds graceful drain of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// NodeMode runs the headless market node: the HTTP + WebSocket API, the
// event hub, and the notification watcher. It blocks until the context is
// cancelled or a component fails.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	hub := ws.NewHub(deps.Bus, a.logger)
	watch := notify.NewMarketWatch(deps.Bus, deps.Notifier, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG,
			"redis":    deps.Redis,
		}, a.logger),
		Markets: handler.NewMarketHandler(deps.Ledger, a.logger),
		Bets:    handler.NewBetHandler(deps.Ledger, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		SubmitLimit:  a.cfg.Server.SubmitLimit,
		SubmitWindow: a.cfg.Server.SubmitWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCancel(hub.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(watch.Run(gctx)) })

	if deps.Archiver != nil {
		g.Go(func() error {
			return ignoreCancel(runArchiveLoop(gctx, deps.Archiver,
				a.cfg.S3.ArchiveInterval.Duration,
				a.cfg.S3.ArchiveAfter.Duration,
				a.logger))
		})
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// SeedMode connects to a remote node and populates it with demo markets,
// then exits. The wallet provider chain supplies the creator key.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	sdk, err := a.buildClient(deps, a.cfg.Seed.NodeURL)
	if err != nil {
		return err
	}
	seeder := seed.NewSeeder(sdk, a.cfg.Seed.Count, a.logger)
	return seeder.Run(ctx)
}

// FullMode runs the node and, once the API is listening, seeds it in-process.
// Intended for local development: one binary gives a populated node.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.NodeMode(gctx, deps) })
	g.Go(func() error {
		nodeURL := fmt.Sprintf("http://127.0.0.1:%d", a.cfg.Server.Port)
		sdk, err := a.buildClient(deps, nodeURL)
		if err != nil {
			return err
		}
		seeder := seed.NewSeeder(sdk, a.cfg.Seed.Count, a.logger)
		if err := seeder.WaitReady(gctx, nodeURL); err != nil {
			return err
		}
		if err := seeder.Run(gctx); err != nil {
			a.logger.ErrorContext(gctx, "seeding failed",
				slog.String("error", err.Error()),
			)
		}
		// The node keeps serving after seeding completes.
		return nil
	})

	return g.Wait()
}

// buildClient assembles the embedded SDK client: wallet provider resolution,
// the shared FHE engine, and an HTTP transport to the given node.
func (a *App) buildClient(deps *Dependencies, nodeURL string) (*client.Client, error) {
	sources := fhe.DefaultSources(
		a.cfg.Wallet.PrivateKey,
		a.cfg.Wallet.EncryptedKeyPath,
		a.cfg.Wallet.KeyPassword,
	)
	signer, err := fhe.ResolveProvider(a.cfg.Wallet.ProviderOrder, sources, a.cfg.Chain.ChainID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: resolve wallet: %w", err)
	}

	sdk, err := client.New(client.Config{
		BettingContract: a.cfg.Chain.BettingContract,
		ChainID:         a.cfg.Chain.ChainID,
	}, deps.Engine, client.NewHTTPTransport(nodeURL), signer, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: sdk client: %w", err)
	}
	return sdk, nil
}

// marketArchiver is the sweep surface of the blob archiver.
type marketArchiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
	ArchiveCancelled(ctx context.Context, before time.Time) (int64, error)
}

// runArchiveLoop periodically exports terminal markets older than the
// retention window to object storage. Sweep failures are logged and the loop
// keeps going; only context cancellation stops it.
func runArchiveLoop(ctx context.Context, arch marketArchiver, interval, retain time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retain)
			settled, err := arch.ArchiveSettled(ctx, cutoff)
			if err != nil {
				logger.ErrorContext(ctx, "settled archive sweep failed",
					slog.String("error", err.Error()),
				)
			}
			cancelled, err := arch.ArchiveCancelled(ctx, cutoff)
			if err != nil {
				logger.ErrorContext(ctx, "cancelled archive sweep failed",
					slog.String("error", err.Error()),
				)
			}
			if settled+cancelled > 0 {
				logger.InfoContext(ctx, "archive sweep complete",
					slog.Int64("settled", settled),
					slog.Int64("cancelled", cancelled),
				)
			}
		}
	}
}

// ignoreCancel maps context cancellation to a clean exit so an orderly
// shutdown is not reported as a failure.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainbazaar/marketd/internal/archive"
	"github.com/chainbazaar/marketd/internal/market"
	"github.com/chainbazaar/marketd/internal/server"
	"github.com/chainbazaar/marketd/internal/server/handler"
	"github.com/chainbazaar/marketd/internal/server/ws"
	"github.com/chainbazaar/marketd/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get to finish once the
// run context is cancelled.
const shutdownGrace = 10 * time.Second

// ServeMode runs the marketplace against live on-chain registries.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "serve mode",
		slog.String("operator", deps.Operator.Hex()),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)
	return a.run(ctx, deps)
}

// SimMode runs the marketplace against in-memory registries, for demos and
// local development without a chain.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "sim mode",
		slog.String("operator", deps.Operator.Hex()),
	)
	return a.run(ctx, deps)
}

// run assembles the engine, services, and API server over the wired
// dependencies and blocks until the context is cancelled or a component
// fails.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	policy := market.Policy{
		TradingEnabled:   a.cfg.Market.TradingEnabled,
		MinExpireWindow:  a.cfg.Market.MinExpireWindow.Duration,
		MaxExpireWindow:  a.cfg.Market.MaxExpireWindow.Duration,
		ServiceFeePoints: a.cfg.Market.ServiceFeePoints,
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	ledger := market.NewLedger()
	oracle := market.NewOracle(deps.Assets, deps.Payments, deps.Operator)
	engine := market.NewEngine(
		ledger,
		oracle,
		deps.Assets,
		deps.Payments,
		deps.Royalties,
		deps.Operator,
		policy,
		a.logger.With(slog.String("component", "engine")),
	)

	markets := service.NewMarketService(
		engine,
		deps.TradeStore,
		deps.AuditStore,
		deps.SignalBus,
		deps.LockManager,
		a.logger.With(slog.String("component", "market_service")),
	)
	admin := service.NewAdminService(
		engine,
		deps.AuditStore,
		deps.BlobReader,
		a.logger.With(slog.String("component", "admin_service")),
	)

	checks := make(map[string]handler.HealthCheck, len(deps.HealthChecks))
	for name, probe := range deps.HealthChecks {
		checks[name] = probe
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger.With(slog.String("component", "ws")))

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminToken:  a.cfg.Server.AdminToken,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(checks),
			Listings: handler.NewListingHandler(markets, a.logger),
			Bids:     handler.NewBidHandler(markets, a.logger),
			Trades:   handler.NewTradeHandler(markets, a.logger),
			Admin:    handler.NewAdminHandler(admin, markets, admin, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger.With(slog.String("component", "server")),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		archiver := archive.New(
			deps.TradeStore,
			deps.AuditStore,
			deps.BlobWriter,
			a.cfg.Archive.Retention.Duration,
			a.logger.With(slog.String("component", "archive")),
		)
		g.Go(func() error {
			if err := archiver.RunEvery(gctx, a.cfg.Archive.Interval.Duration); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

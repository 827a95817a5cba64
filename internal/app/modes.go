package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/valentinrey/fundingbot/internal/analyzer"
	"github.com/valentinrey/fundingbot/internal/collector"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/executor"
	"github.com/valentinrey/fundingbot/internal/feed"
	"github.com/valentinrey/fundingbot/internal/portfolio"
	"github.com/valentinrey/fundingbot/internal/server"
	"github.com/valentinrey/fundingbot/internal/server/handler"
	"github.com/valentinrey/fundingbot/internal/server/ws"
	"github.com/valentinrey/fundingbot/internal/trader"
)

// tradingStack bundles the services built for modes that run the trading loop.
type tradingStack struct {
	collector *collector.Collector
	analyzer  *analyzer.Analyzer
	executor  *executor.Executor
	monitor   *portfolio.Monitor
	trader    *trader.Trader
}

// buildTradingStack wires the collector, analyzer, executor, monitor, and
// trader together around a buffered entry-signal channel.
func (a *App) buildTradingStack(deps *Dependencies) *tradingStack {
	signalCh := make(chan domain.EntrySignal, 32)

	coll := collector.New(collector.Config{
		Exchanges: deps.Exchanges,
		Rates:     deps.FundingCache,
		Opps:      deps.OpportunityCache,
		Store:     deps.FundingStore,
		Bus:       deps.SignalBus,
		Logger:    a.logger,
	})
	anlz := analyzer.New(a.cfg.Trading, a.logger)

	exec := executor.New(executor.Config{
		SignalCh:  signalCh,
		Venues:    deps.Venues,
		Rates:     deps.FundingCache,
		Positions: deps.PositionStore,
		Execs:     deps.ExecutionStore,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		Trading:   a.cfg.Trading,
		Logger:    a.logger,
	})

	mon := portfolio.New(portfolio.Config{
		Venues:    deps.Venues,
		Rates:     deps.FundingCache,
		Positions: deps.PositionStore,
		Closer:    exec,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		Trading:   a.cfg.Trading,
		Logger:    a.logger,
	})

	trd := trader.New(trader.Config{
		Collector: coll,
		Analyzer:  anlz,
		Monitor:   mon,
		Locks:     deps.LockManager,
		Bus:       deps.SignalBus,
		SignalCh:  signalCh,
		Trading:   a.cfg.Trading,
		Logger:    a.logger,
	})

	return &tradingStack{
		collector: coll,
		analyzer:  anlz,
		executor:  exec,
		monitor:   mon,
		trader:    trd,
	}
}

// startFeed adds the Hyperliquid WebSocket feed goroutine when a WS endpoint
// and watch list are configured. Each live update is relayed to the bus so
// WebSocket clients see rates between collection rounds.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Hyperliquid.WsURL == "" || len(a.cfg.Trading.Symbols) == 0 {
		return
	}
	bus := deps.SignalBus
	onRate := func(ctx context.Context, rate domain.FundingRate) {
		payload, err := json.Marshal(rate)
		if err != nil {
			return
		}
		if err := bus.Publish(ctx, "rates", payload); err != nil {
			a.logger.Debug("rate publish failed", slog.String("error", err.Error()))
		}
	}
	f := feed.NewHyperliquidFeed(
		a.cfg.Hyperliquid.WsURL,
		a.cfg.Trading.Symbols,
		deps.FundingCache,
		onRate,
		a.logger,
	)
	g.Go(func() error {
		return f.Run(ctx)
	})
}

// startArchiver schedules the cold-storage archive job when archiving and S3
// are both enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return nil
	}

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	run := func() {
		before := time.Now().UTC().Add(-retention)
		if n, err := deps.Archiver.ArchiveFunding(ctx, before); err != nil {
			a.logger.Warn("funding archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("funding archive complete", slog.Int64("rows", n))
		}
		if n, err := deps.Archiver.ArchiveExecutions(ctx, before); err != nil {
			a.logger.Warn("execution archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("execution archive complete", slog.Int64("rows", n))
		}
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(a.cfg.Archive.Cron, run); err != nil {
		return fmt.Errorf("app: archive cron %q: %w", a.cfg.Archive.Cron, err)
	}

	g.Go(func() error {
		c.Start()
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return ctx.Err()
	})
	return nil
}

// startHTTPServer adds the HTTP API server and WebSocket hub goroutines.
// status may be nil for modes without a trading loop.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, status handler.StatusProvider) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	exchanges := make([]string, 0, len(deps.Venues))
	for name := range deps.Venues {
		exchanges = append(exchanges, name)
	}
	if len(exchanges) == 0 {
		exchanges = []string{"orderly", "hyperliquid"}
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres.Pool(),
			"redis":    deps.Redis,
		}, a.logger),
		Status:        handler.NewStatusHandler(status, a.cfg.Mode),
		Rates:         handler.NewRatesHandler(deps.FundingCache, deps.FundingStore, a.cfg.Trading.Symbols, exchanges, a.logger),
		Opportunities: handler.NewOpportunitiesHandler(deps.OpportunityCache, a.logger),
		Positions:     handler.NewPositionsHandler(deps.PositionStore, a.logger),
		Executions:    handler.NewExecutionsHandler(deps.ExecutionStore, a.logger),
		Summary:       handler.NewSummaryHandler(deps.PositionStore, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchivesHandler(deps.BlobReader, a.logger)
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// TradeMode runs the full trading loop: collection, analysis, execution, and
// position monitoring. The HTTP server is started when enabled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)
	stack := a.buildTradingStack(deps)

	g.Go(func() error {
		return stack.executor.Run(ctx)
	})
	g.Go(func() error {
		return stack.trader.Run(ctx)
	})
	a.startFeed(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, stack.trader)
	}

	return g.Wait()
}

// CollectMode only gathers and publishes funding rates: the periodic
// collector plus the live WebSocket feed. Nothing trades.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	g, ctx := errgroup.WithContext(ctx)

	coll := collector.New(collector.Config{
		Exchanges: deps.Exchanges,
		Rates:     deps.FundingCache,
		Opps:      deps.OpportunityCache,
		Store:     deps.FundingStore,
		Bus:       deps.SignalBus,
		Logger:    a.logger,
	})

	interval := a.cfg.Trading.CollectInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := coll.Collect(ctx); err != nil {
				a.logger.Warn("collection failed", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	a.startFeed(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// MonitorMode watches existing positions and closes them by the exit rules,
// without opening anything new.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	stack := a.buildTradingStack(deps)

	interval := a.cfg.Trading.CycleInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			remaining, closed, err := stack.monitor.Check(ctx)
			if err != nil {
				a.logger.Warn("monitoring failed", slog.String("error", err.Error()))
			} else {
				a.logger.Info("monitor cycle complete",
					slog.Int("open", remaining),
					slog.Int("closed", closed),
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	a.startFeed(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// ServerMode exposes the read-only API over already-collected data without
// touching the venues.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs everything: the trading loop, the live feed, the HTTP server,
// and the archive job.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	stack := a.buildTradingStack(deps)

	g.Go(func() error {
		return stack.executor.Run(ctx)
	})
	g.Go(func() error {
		return stack.trader.Run(ctx)
	})
	a.startFeed(ctx, g, deps)

	if err := a.startArchiver(ctx, g, deps); err != nil {
		return err
	}

	a.startHTTPServer(ctx, g, deps, stack.trader)

	return g.Wait()
}

// Package executor turns entry signals into delta-neutral dual-leg positions
// and unwinds them again. Both legs fill or neither stays open.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/notify"
)

// Executor reads entry signals from a channel, applies dedup, expiry and risk
// checks, then opens positions through the venue clients.
type Executor struct {
	signalCh  <-chan domain.EntrySignal
	venues    map[string]exchange.Exchange
	rates     domain.FundingCache
	positions domain.ArbPositionStore
	execs     domain.ExecutionStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	notifier  *notify.Notifier
	cfg       config.TradingConfig
	dedup     *Dedup
	logger    *slog.Logger

	cleanupInterval time.Duration
	legDeadline     time.Duration
	now             func() time.Time
}

// Config wires the executor's dependencies.
type Config struct {
	SignalCh  <-chan domain.EntrySignal
	Venues    map[string]exchange.Exchange
	Rates     domain.FundingCache
	Positions domain.ArbPositionStore
	Execs     domain.ExecutionStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
	Trading   config.TradingConfig
	Logger    *slog.Logger
}

// New creates an executor guarded by a 2-minute signal dedup window.
func New(cfg Config) *Executor {
	return &Executor{
		signalCh:        cfg.SignalCh,
		venues:          cfg.Venues,
		rates:           cfg.Rates,
		positions:       cfg.Positions,
		execs:           cfg.Execs,
		audit:           cfg.Audit,
		bus:             cfg.Bus,
		notifier:        cfg.Notifier,
		cfg:             cfg.Trading,
		dedup:           NewDedup(2 * time.Minute),
		logger:          cfg.Logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		legDeadline:     30 * time.Second,
		now:             time.Now,
	}
}

// Run processes signals until the context is cancelled, then drains whatever
// is still buffered so in-flight signals are not silently dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process runs a single signal through the validation pipeline and, if it
// survives, opens the position.
func (e *Executor) process(ctx context.Context, sig domain.EntrySignal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("source", sig.Source),
		slog.String("symbol", sig.Opportunity.Symbol),
	)

	if e.dedup.IsDuplicate(sig.ID) || e.dedup.IsDuplicate("symbol:"+sig.Opportunity.Symbol) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	if !sig.ExpiresAt.IsZero() && e.now().After(sig.ExpiresAt) {
		log.Warn("signal expired, skipping", slog.Time("expires_at", sig.ExpiresAt))
		return
	}

	if err := e.preTradeCheck(ctx, sig.Opportunity); err != nil {
		log.Warn("risk check failed, skipping", slog.String("error", err.Error()))
		return
	}

	if _, err := e.OpenPosition(ctx, sig.Opportunity); err != nil {
		log.Error("entry failed", slog.String("error", err.Error()))
	}
}

// preTradeCheck enforces the portfolio-level limits before a new entry.
func (e *Executor) preTradeCheck(ctx context.Context, opp domain.Opportunity) error {
	open, err := e.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("executor: list open positions: %w", err)
	}
	if len(open) >= e.cfg.MaxOpenPositions {
		return fmt.Errorf("max open positions reached (%d)", e.cfg.MaxOpenPositions)
	}
	for _, pos := range open {
		if pos.Symbol == opp.Symbol {
			return domain.ErrPositionExists
		}
	}

	sum, err := e.positions.SummarizeDay(ctx, e.now().UTC())
	if err == nil && sum.RealizedPnLUSD <= -e.cfg.DailyLossLimitUSD {
		return fmt.Errorf("daily loss limit hit: %.2f USDC", sum.RealizedPnLUSD)
	}
	return nil
}

// drain processes signals already buffered after cancellation, each on a
// short-lived context so shutdown cannot hang on a venue call.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}

// SetDedupTTL replaces the dedup window. Call before Run.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// Package trader orchestrates the trading cycle: collect funding rates,
// rank opportunities, hand entries to the executor and monitor open
// positions.
package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/valentinrey/fundingbot/internal/analyzer"
	"github.com/valentinrey/fundingbot/internal/collector"
	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/metrics"
	"github.com/valentinrey/fundingbot/internal/portfolio"
)

const (
	// maxSleep caps the pause between cycles so exits are never delayed by
	// a long collection interval.
	maxSleep = 10 * time.Minute

	// entryPause lets the first entry's fills propagate before the next
	// signal is emitted, so the dedup and venue checks see them.
	entryPause = 3 * time.Second
)

// Trader runs the main loop. A distributed lock keeps concurrent deployments
// from trading over each other; an instance that cannot take the lock idles.
type Trader struct {
	collector *collector.Collector
	analyzer  *analyzer.Analyzer
	monitor   *portfolio.Monitor
	locks     domain.LockManager
	bus       domain.SignalBus
	signalCh  chan<- domain.EntrySignal
	cfg       config.TradingConfig
	logger    *slog.Logger

	startedAt       time.Time
	cyclesCompleted atomic.Int64
	lastCycleAt     atomic.Int64 // unix millis
	lastCycleMillis atomic.Int64
	openPositions   atomic.Int32

	// summaryMu guards lastSummaryDay: the cron goroutine and the cycle
	// loop both touch it.
	summaryMu      sync.Mutex
	lastSummaryDay string
}

// Config wires the trader's dependencies.
type Config struct {
	Collector *collector.Collector
	Analyzer  *analyzer.Analyzer
	Monitor   *portfolio.Monitor
	Locks     domain.LockManager
	Bus       domain.SignalBus
	SignalCh  chan<- domain.EntrySignal
	Trading   config.TradingConfig
	Logger    *slog.Logger
}

// New creates the trading loop.
func New(cfg Config) *Trader {
	return &Trader{
		collector:      cfg.Collector,
		analyzer:       cfg.Analyzer,
		monitor:        cfg.Monitor,
		locks:          cfg.Locks,
		bus:            cfg.Bus,
		signalCh:       cfg.SignalCh,
		cfg:            cfg.Trading,
		logger:         cfg.Logger.With(slog.String("component", "trader")),
		startedAt:      time.Now(),
		lastSummaryDay: time.Now().UTC().Format("2006-01-02"),
	}
}

// Run executes trading cycles until the context is cancelled. The daily
// summary fires from a cron schedule at midnight UTC, with an in-loop
// fallback in case the process slept through it.
func (t *Trader) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("0 0 * * *", func() {
		t.dailySummary(ctx)
	}); err != nil {
		return fmt.Errorf("trader: schedule daily summary: %w", err)
	}
	c.Start()
	defer c.Stop()

	t.logger.Info("trader started",
		slog.Duration("cycle_interval", t.cfg.CycleInterval.Duration),
		slog.Bool("auto_execute", t.cfg.AutoExecute),
	)
	defer t.logger.Info("trader stopped")

	for {
		started := time.Now()
		if err := t.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Error("cycle failed", slog.String("error", err.Error()))
		}

		sleep := t.cfg.CycleInterval.Duration - time.Since(started)
		if sleep > maxSleep {
			sleep = maxSleep
		}
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// runCycle runs one collect-analyze-execute-monitor round under the
// distributed lock.
func (t *Trader) runCycle(ctx context.Context) error {
	unlock, err := t.locks.Acquire(ctx, t.cfg.LockKey, t.cfg.CycleInterval.Duration)
	if err != nil {
		if err == domain.ErrLockHeld {
			t.logger.Info("cycle lock held elsewhere, idling")
			return nil
		}
		return fmt.Errorf("trader: acquire lock: %w", err)
	}
	defer unlock()

	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		metrics.CycleDurationSeconds.Observe(elapsed.Seconds())
		t.cyclesCompleted.Add(1)
		t.lastCycleAt.Store(started.UnixMilli())
		t.lastCycleMillis.Store(elapsed.Milliseconds())
	}()

	opps, err := t.collector.Collect(ctx)
	if err != nil {
		return err
	}

	ranked := t.analyzer.Analyze(opps)

	if t.cfg.AutoExecute && len(ranked) > 0 {
		t.emitSignals(ctx, ranked)
	}

	remaining, closed, err := t.monitor.Check(ctx)
	if err != nil {
		t.logger.Warn("monitoring failed", slog.String("error", err.Error()))
	} else {
		t.openPositions.Store(int32(remaining))
		if closed > 0 {
			t.logger.Info("positions closed this cycle", slog.Int("count", closed))
		}
	}

	t.summaryFallback(ctx)
	t.publishStatus(ctx)
	return nil
}

// emitSignals hands ranked opportunities to the executor, pausing between
// entries so fills settle before the next venue check.
func (t *Trader) emitSignals(ctx context.Context, ranked []domain.Opportunity) {
	for i, sig := range t.analyzer.Signals(ranked) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(entryPause):
			}
		}
		select {
		case t.signalCh <- sig:
			if payload, err := json.Marshal(sig); err == nil {
				if err := t.bus.Publish(ctx, "signals", payload); err != nil {
					t.logger.Warn("signal publish failed", slog.String("error", err.Error()))
				}
			}
		case <-ctx.Done():
			return
		default:
			t.logger.Warn("signal channel full, dropping entry",
				slog.String("symbol", sig.Opportunity.Symbol),
			)
		}
	}
}

// dailySummary reports the previous UTC day.
func (t *Trader) dailySummary(ctx context.Context) {
	day := time.Now().UTC().AddDate(0, 0, -1)
	if _, err := t.monitor.DailySummary(ctx, day); err != nil {
		t.logger.Warn("daily summary failed", slog.String("error", err.Error()))
		return
	}
	t.summaryMu.Lock()
	t.lastSummaryDay = time.Now().UTC().Format("2006-01-02")
	t.summaryMu.Unlock()
}

// summaryFallback catches a missed cron fire around a day rollover.
func (t *Trader) summaryFallback(ctx context.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	t.summaryMu.Lock()
	missed := today != t.lastSummaryDay
	t.summaryMu.Unlock()
	if missed {
		t.dailySummary(ctx)
	}
}

// Status reports the loop's operational state.
func (t *Trader) Status() domain.BotStatus {
	return domain.BotStatus{
		Mode:            "trade",
		UptimeSeconds:   int64(time.Since(t.startedAt).Seconds()),
		OpenPositions:   t.openPositions.Load(),
		LastCycleAt:     time.UnixMilli(t.lastCycleAt.Load()),
		LastCycleMillis: t.lastCycleMillis.Load(),
		CyclesCompleted: t.cyclesCompleted.Load(),
	}
}

// publishStatus pushes the current status onto the signal bus for the API
// server and any dashboards.
func (t *Trader) publishStatus(ctx context.Context) {
	if t.bus == nil {
		return
	}
	payload, err := json.Marshal(t.Status())
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, "status", payload); err != nil {
		t.logger.Debug("status publish failed", slog.String("error", err.Error()))
	}
}

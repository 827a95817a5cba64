// Package portfolio tracks open arbitrage positions, refreshes their yield
// and decides when they should be unwound.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valentinrey/fundingbot/internal/config"
	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/metrics"
	"github.com/valentinrey/fundingbot/internal/notify"
)

// fundingFlipLimitUSD closes a position that has paid out more than this in
// funding.
const fundingFlipLimitUSD = 30.0

// Closer unwinds both legs of a position. Implemented by the executor.
type Closer interface {
	ClosePosition(ctx context.Context, pos domain.ArbPosition, reason domain.CloseReason) error
}

// Monitor walks open positions each cycle and exits the ones that stopped
// earning.
type Monitor struct {
	venues    map[string]exchange.Exchange
	rates     domain.FundingCache
	positions domain.ArbPositionStore
	closer    Closer
	bus       domain.SignalBus
	notifier  *notify.Notifier
	cfg       config.TradingConfig
	logger    *slog.Logger
	now       func() time.Time
}

// Config wires the monitor's dependencies.
type Config struct {
	Venues    map[string]exchange.Exchange
	Rates     domain.FundingCache
	Positions domain.ArbPositionStore
	Closer    Closer
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
	Trading   config.TradingConfig
	Logger    *slog.Logger
}

// New creates a position monitor.
func New(cfg Config) *Monitor {
	return &Monitor{
		venues:    cfg.Venues,
		rates:     cfg.Rates,
		positions: cfg.Positions,
		closer:    cfg.Closer,
		bus:       cfg.Bus,
		notifier:  cfg.Notifier,
		cfg:       cfg.Trading,
		logger:    cfg.Logger.With(slog.String("component", "portfolio")),
		now:       time.Now,
	}
}

// Check refreshes every open position and closes the ones matching an exit
// rule. It returns how many positions remain open and how many were closed.
func (m *Monitor) Check(ctx context.Context) (remaining, closed int, err error) {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("portfolio: list open positions: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(open)))
	if len(open) == 0 {
		return 0, 0, nil
	}

	for _, pos := range open {
		if ctx.Err() != nil {
			return len(open) - closed, closed, ctx.Err()
		}

		m.refresh(ctx, &pos)

		if err := m.positions.Update(ctx, pos); err != nil {
			m.logger.Warn("position update failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		m.publishPosition(ctx, pos)

		reason, ok := m.shouldClose(pos)
		if !ok {
			continue
		}

		m.logger.Info("exit rule hit",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("reason", string(reason)),
			slog.Float64("current_apr", pos.CurrentAPR),
		)
		if err := m.closer.ClosePosition(ctx, pos, reason); err != nil {
			m.logger.Error("close failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
	}
	metrics.OpenPositions.Set(float64(len(open) - closed))
	return len(open) - closed, closed, nil
}

// refresh recomputes CurrentAPR from live rates, accrues funding and pulls
// unrealized PnL from the venues.
func (m *Monitor) refresh(ctx context.Context, pos *domain.ArbPosition) {
	elapsed := m.now().Sub(pos.OpenedAt)

	apr, err := m.liveAPR(ctx, pos)
	if err != nil {
		// Stale cache. Simulate yield decay from the entry level instead
		// of flying blind; spreads rarely survive two days.
		apr = decayedAPR(pos.EntryAPR, elapsed)
	}
	pos.CurrentAPR = apr

	// Funding accrues continuously on Hyperliquid and every 8h on Orderly;
	// a per-check accrual at the current APR is close enough for exits.
	sinceCheck := m.cfg.CycleInterval.Duration
	if elapsed < sinceCheck {
		sinceCheck = elapsed
	}
	accrual := pos.NotionalUSD.
		Mul(decimal.NewFromFloat(pos.CurrentAPR / 100)).
		Mul(decimal.NewFromFloat(sinceCheck.Hours() / 8760))
	pos.FundingReceivedUSD = pos.FundingReceivedUSD.Add(accrual)
	if accrual.IsPositive() {
		metrics.FundingReceivedUSD.Add(accrual.InexactFloat64())
	}

	if pnl, err := m.venuePnL(ctx, pos); err == nil {
		pos.PnLUSD = pnl
	}
}

// publishPosition pushes the refreshed position onto the bus so the WebSocket
// hub can relay it.
func (m *Monitor) publishPosition(ctx context.Context, pos domain.ArbPosition) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(pos)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, "positions", payload); err != nil {
		m.logger.Debug("position publish failed", slog.String("error", err.Error()))
	}
}

// liveAPR recomputes the pair's net APR from the cached venue rates.
func (m *Monitor) liveAPR(ctx context.Context, pos *domain.ArbPosition) (float64, error) {
	long, err := m.rates.Get(ctx, pos.LongExchange, pos.Symbol)
	if err != nil {
		return 0, err
	}
	short, err := m.rates.Get(ctx, pos.ShortExchange, pos.Symbol)
	if err != nil {
		return 0, err
	}

	apr := 0.0
	if long.Rate < 0 {
		apr += -long.APR
	} else {
		// The long leg now pays funding.
		apr -= long.APR
	}
	if short.Rate > 0 {
		apr += short.APR
	} else {
		apr -= -short.APR
	}
	return apr, nil
}

// decayedAPR simulates yield decay at 3% per hour, floored so a young
// position is never closed on simulation alone.
func decayedAPR(entryAPR float64, age time.Duration) float64 {
	hours := age.Hours()
	if hours >= 48 {
		return 20
	}
	factor := 1 - hours*0.03
	if factor < 0.3 {
		factor = 0.3
	}
	apr := entryAPR * factor
	if apr < 20 {
		apr = 20
	}
	return apr
}

// venuePnL sums unrealized PnL of both legs as reported by the venues.
func (m *Monitor) venuePnL(ctx context.Context, pos *domain.ArbPosition) (decimal.Decimal, error) {
	total := decimal.Zero
	found := false
	for _, name := range []string{pos.LongExchange, pos.ShortExchange} {
		venue, ok := m.venues[name]
		if !ok {
			continue
		}
		positions, err := venue.Positions(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		for _, vp := range positions {
			if vp.Symbol == pos.Symbol {
				total = total.Add(vp.UnrealizedPnL)
				found = true
			}
		}
	}
	if !found {
		return decimal.Zero, errors.New("portfolio: no venue positions found")
	}
	return total, nil
}

// shouldClose applies the exit rules in order of severity.
func (m *Monitor) shouldClose(pos domain.ArbPosition) (domain.CloseReason, bool) {
	switch {
	case pos.CurrentAPR < m.cfg.StopLossAPR:
		return domain.CloseReasonStopLoss, true
	case pos.PnLUSD.LessThan(decimal.NewFromFloat(-m.cfg.MaxLossUSD)):
		return domain.CloseReasonMaxLoss, true
	case pos.FundingReceivedUSD.LessThan(decimal.NewFromFloat(-fundingFlipLimitUSD)):
		return domain.CloseReasonFundingFlip, true
	case pos.Age(m.now()) > m.cfg.MaxPositionAge.Duration:
		return domain.CloseReasonTimeout, true
	case pos.CurrentAPR < m.cfg.ExitAPRThreshold:
		return domain.CloseReasonAPRDecay, true
	}
	return "", false
}

// CapitalUtilization reports the fraction of total venue balance committed
// as margin on open positions.
func (m *Monitor) CapitalUtilization(ctx context.Context) (float64, error) {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return 0, err
	}

	used := decimal.Zero
	for _, pos := range open {
		// Collateral is committed once per leg.
		used = used.Add(pos.CollateralUSD.Mul(decimal.NewFromInt(2)))
	}

	total := decimal.Zero
	for _, venue := range m.venues {
		bal, err := venue.Balance(ctx)
		if err != nil {
			return 0, fmt.Errorf("portfolio: balance %s: %w", venue.Name(), err)
		}
		total = total.Add(bal.TotalUSD)
	}
	if total.IsZero() {
		return 0, nil
	}

	util := used.Div(total).InexactFloat64()
	if util > 1 {
		util = 1
	}
	return util, nil
}

// DailySummary builds the end-of-day report for the given UTC day and sends
// it through the notifier.
func (m *Monitor) DailySummary(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	sum, err := m.positions.SummarizeDay(ctx, day)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("portfolio: summarize day: %w", err)
	}

	if util, err := m.CapitalUtilization(ctx); err == nil {
		sum.CapitalUtilization = util
	}

	if m.notifier != nil {
		title, msg := notify.FormatDailySummary(sum)
		if err := m.notifier.Notify(ctx, notify.EventDailySummary, title, msg); err != nil {
			m.logger.Warn("summary notification failed", slog.String("error", err.Error()))
		}
	}
	return sum, nil
}

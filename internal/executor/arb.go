package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/valentinrey/fundingbot/internal/domain"
	"github.com/valentinrey/fundingbot/internal/exchange"
	"github.com/valentinrey/fundingbot/internal/metrics"
	"github.com/valentinrey/fundingbot/internal/notify"
)

// OpenPosition opens the long and short legs of an opportunity in parallel.
// On a partial fill the filled leg is closed again and the attempt is
// recorded as rolled back.
func (e *Executor) OpenPosition(ctx context.Context, opp domain.Opportunity) (*domain.ArbPosition, error) {
	longVenue, ok := e.venues[opp.LongExchange]
	if !ok {
		return nil, fmt.Errorf("executor: unknown venue %q", opp.LongExchange)
	}
	shortVenue, ok := e.venues[opp.ShortExchange]
	if !ok {
		return nil, fmt.Errorf("executor: unknown venue %q", opp.ShortExchange)
	}

	// Final check against the venues themselves. The store check in
	// preTradeCheck can miss positions opened out of band.
	if err := e.checkNoVenuePosition(ctx, longVenue, shortVenue, opp.Symbol); err != nil {
		return nil, err
	}

	collateral, notional, err := e.sizePosition(ctx, longVenue, shortVenue, opp.NetAPR)
	if err != nil {
		return nil, err
	}

	qty, err := e.baseQuantity(ctx, opp, notional)
	if err != nil {
		return nil, err
	}

	e.setupLeverage(ctx, longVenue, shortVenue, opp.Symbol)

	log := e.logger.With(
		slog.String("symbol", opp.Symbol),
		slog.String("long", opp.LongExchange),
		slog.String("short", opp.ShortExchange),
	)
	log.Info("opening dual-leg position",
		slog.Float64("net_apr", opp.NetAPR),
		slog.String("collateral_usd", collateral.StringFixed(2)),
		slog.String("notional_usd", notional.StringFixed(2)),
	)

	started := e.now()
	legCtx, cancel := context.WithTimeout(ctx, e.legDeadline)
	defer cancel()

	var longRes, shortRes domain.OrderResult
	var longErr, shortErr error

	var g errgroup.Group
	g.Go(func() error {
		longRes, longErr = longVenue.PlaceMarketOrder(legCtx, domain.OrderRequest{
			Symbol:   opp.Symbol,
			Side:     domain.OrderSideBuy,
			Quantity: qty,
		})
		return nil
	})
	g.Go(func() error {
		shortRes, shortErr = shortVenue.PlaceMarketOrder(legCtx, domain.OrderRequest{
			Symbol:   opp.Symbol,
			Side:     domain.OrderSideSell,
			Quantity: qty,
		})
		return nil
	})
	g.Wait()

	metrics.ExecutionDurationSeconds.Observe(time.Since(started).Seconds())

	exec := domain.Execution{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Kind:          "entry",
		NotionalUSD:   notional,
		StartedAt:     started,
		Legs: []domain.ExecLeg{
			legFromResult(opp.LongExchange, domain.OrderSideBuy, qty, longRes),
			legFromResult(opp.ShortExchange, domain.OrderSideSell, qty, shortRes),
		},
	}

	longOK := longErr == nil && longRes.Success
	shortOK := shortErr == nil && shortRes.Success

	switch {
	case longOK && shortOK:
		return e.finishEntry(ctx, opp, exec, collateral, notional)

	case longOK || shortOK:
		e.rollback(ctx, opp, exec, longOK, qty)
		return nil, fmt.Errorf("executor: partial fill on %s, rolled back", opp.Symbol)

	default:
		exec.Status = domain.ExecStatusFailed
		exec.Error = legError(longErr, shortErr, longRes, shortRes)
		e.recordExecution(ctx, exec)
		metrics.ExecutionsTotal.WithLabelValues("entry", "failed").Inc()
		return nil, fmt.Errorf("executor: both legs failed on %s: %s", opp.Symbol, exec.Error)
	}
}

// finishEntry persists the position and execution after both legs filled.
func (e *Executor) finishEntry(ctx context.Context, opp domain.Opportunity, exec domain.Execution, collateral, notional decimal.Decimal) (*domain.ArbPosition, error) {
	now := e.now()
	exec.Status = domain.ExecStatusFilled
	exec.CompletedAt = &now

	pos := domain.ArbPosition{
		ID:            uuid.NewString(),
		Symbol:        opp.Symbol,
		LongExchange:  opp.LongExchange,
		ShortExchange: opp.ShortExchange,
		CollateralUSD: collateral,
		NotionalUSD:   notional,
		Leverage:      e.cfg.Leverage,
		EntryAPR:      opp.NetAPR,
		CurrentAPR:    opp.NetAPR,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      now,
	}
	if err := e.positions.Create(ctx, pos); err != nil {
		return nil, fmt.Errorf("executor: persist position: %w", err)
	}

	exec.PositionID = pos.ID
	e.recordExecution(ctx, exec)
	e.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"entry_apr":   pos.EntryAPR,
		"notional":    notional.InexactFloat64(),
	})

	metrics.ExecutionsTotal.WithLabelValues("entry", "filled").Inc()
	metrics.ExecutionNotionalUSD.Observe(notional.InexactFloat64())

	if e.notifier != nil {
		title, msg := notify.FormatPositionOpened(pos)
		if err := e.notifier.Notify(ctx, notify.EventPositionOpened, title, msg); err != nil {
			e.logger.Warn("open notification failed", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry_apr", pos.EntryAPR),
	)
	return &pos, nil
}

// rollback closes the one leg that filled after the other failed.
func (e *Executor) rollback(ctx context.Context, opp domain.Opportunity, exec domain.Execution, longFilled bool, qty decimal.Decimal) {
	venueName, failedLeg := opp.LongExchange, "short"
	side := domain.OrderSideSell
	if !longFilled {
		venueName, failedLeg = opp.ShortExchange, "long"
		side = domain.OrderSideBuy
	}
	venue := e.venues[venueName]

	e.logger.Warn("partial fill, rolling back",
		slog.String("symbol", opp.Symbol),
		slog.String("filled_venue", venueName),
	)
	metrics.Rollbacks.Inc()

	// Fresh timeout: the entry deadline may already be spent.
	rbCtx, cancel := context.WithTimeout(ctx, e.legDeadline)
	defer cancel()

	if _, err := venue.PlaceMarketOrder(rbCtx, domain.OrderRequest{
		Symbol:     opp.Symbol,
		Side:       side,
		Quantity:   qty,
		ReduceOnly: true,
	}); err != nil {
		// A naked leg is the worst state the bot can be in. Alert loudly.
		e.logger.Error("rollback failed, naked leg open",
			slog.String("symbol", opp.Symbol),
			slog.String("venue", venueName),
			slog.String("error", err.Error()),
		)
		if e.notifier != nil {
			e.notifier.NotifyAll(ctx, "ROLLBACK FAILED: "+opp.Symbol,
				fmt.Sprintf("Naked %s leg on %s, manual intervention required: %v", failedLeg, venueName, err))
		}
	} else if e.notifier != nil {
		title, msg := notify.FormatRollback(opp.Symbol, failedLeg)
		e.notifier.Notify(ctx, notify.EventRollback, title, msg)
	}

	now := e.now()
	exec.Status = domain.ExecStatusRolledBack
	exec.CompletedAt = &now
	e.recordExecution(ctx, exec)
	e.auditLog(ctx, "rollback", map[string]any{
		"symbol":       opp.Symbol,
		"filled_venue": venueName,
	})
	metrics.ExecutionsTotal.WithLabelValues("entry", "rolled_back").Inc()
}

// ClosePosition flattens both legs of an open position and persists the exit.
func (e *Executor) ClosePosition(ctx context.Context, pos domain.ArbPosition, reason domain.CloseReason) error {
	longVenue, ok := e.venues[pos.LongExchange]
	if !ok {
		return fmt.Errorf("executor: unknown venue %q", pos.LongExchange)
	}
	shortVenue, ok := e.venues[pos.ShortExchange]
	if !ok {
		return fmt.Errorf("executor: unknown venue %q", pos.ShortExchange)
	}

	e.logger.Info("closing position",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
	)

	started := e.now()
	legCtx, cancel := context.WithTimeout(ctx, e.legDeadline)
	defer cancel()

	var longErr, shortErr error
	var g errgroup.Group
	g.Go(func() error {
		longErr = longVenue.ClosePosition(legCtx, pos.Symbol)
		return nil
	})
	g.Go(func() error {
		shortErr = shortVenue.ClosePosition(legCtx, pos.Symbol)
		return nil
	})
	g.Wait()

	if longErr != nil || shortErr != nil {
		return fmt.Errorf("executor: close %s: long=%v short=%v", pos.Symbol, longErr, shortErr)
	}

	pnl := pos.FundingReceivedUSD.Add(pos.PnLUSD)
	if err := e.positions.Close(ctx, pos.ID, reason, pnl.String()); err != nil {
		return fmt.Errorf("executor: persist close: %w", err)
	}

	now := e.now()
	e.recordExecution(ctx, domain.Execution{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Kind:        "exit",
		NotionalUSD: pos.NotionalUSD,
		Status:      domain.ExecStatusFilled,
		StartedAt:   started,
		CompletedAt: &now,
	})
	e.auditLog(ctx, "position_closed", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"reason":      string(reason),
		"pnl_usd":     pnl.InexactFloat64(),
	})

	metrics.ExecutionsTotal.WithLabelValues("exit", "filled").Inc()
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()

	if e.notifier != nil {
		pos.PnLUSD = pnl
		title, msg := notify.FormatPositionClosed(pos, reason)
		if err := e.notifier.Notify(ctx, notify.EventPositionClosed, title, msg); err != nil {
			e.logger.Warn("close notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Sizing and helpers
// --------------------------------------------------------------------------

// capitalFraction tiers the share of free collateral committed by net APR.
// Strong spreads justify a bigger slice.
func capitalFraction(netAPR float64) float64 {
	switch {
	case netAPR >= 500:
		return 0.25
	case netAPR >= 300:
		return 0.20
	case netAPR >= 150:
		return 0.15
	default:
		return 0.08
	}
}

// sizePosition derives per-leg collateral and notional from the smaller free
// balance of the two venues.
func (e *Executor) sizePosition(ctx context.Context, longVenue, shortVenue exchange.Exchange, netAPR float64) (collateral, notional decimal.Decimal, err error) {
	longBal, err := longVenue.Balance(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executor: balance %s: %w", longVenue.Name(), err)
	}
	shortBal, err := shortVenue.Balance(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executor: balance %s: %w", shortVenue.Name(), err)
	}

	free := longBal.FreeUSD
	if shortBal.FreeUSD.LessThan(free) {
		free = shortBal.FreeUSD
	}

	collateral = free.Mul(decimal.NewFromFloat(capitalFraction(netAPR)))

	minC := decimal.NewFromFloat(e.cfg.MinCollateralUSD)
	maxC := decimal.NewFromFloat(e.cfg.MaxCollateralUSD)
	if collateral.LessThan(minC) {
		collateral = minC
	}
	if collateral.GreaterThan(maxC) {
		collateral = maxC
	}
	collateral = collateral.Round(2)

	if free.LessThan(collateral) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("executor: need %s USDC per leg, have %s: %w",
			collateral.StringFixed(2), free.StringFixed(2), domain.ErrInsufficientMargin)
	}

	notional = collateral.Mul(decimal.NewFromInt(int64(e.cfg.Leverage)))
	if maxN := decimal.NewFromFloat(e.cfg.MaxPositionSizeUSD); notional.GreaterThan(maxN) {
		notional = maxN
	}
	return collateral, notional, nil
}

// baseQuantity converts the USD notional into base units at the cached mark
// price of the long venue, falling back to the short venue's.
func (e *Executor) baseQuantity(ctx context.Context, opp domain.Opportunity, notional decimal.Decimal) (decimal.Decimal, error) {
	rate, err := e.rates.Get(ctx, opp.LongExchange, opp.Symbol)
	if err != nil || rate.MarkPrice <= 0 {
		rate, err = e.rates.Get(ctx, opp.ShortExchange, opp.Symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("executor: no mark price for %s: %w", opp.Symbol, err)
	}
	if rate.MarkPrice <= 0 {
		return decimal.Zero, fmt.Errorf("executor: zero mark price for %s", opp.Symbol)
	}
	return notional.Div(decimal.NewFromFloat(rate.MarkPrice)), nil
}

// setupLeverage sets leverage on both venues. A failure downgrades the trade
// rather than blocking it; the venue keeps its previous setting.
func (e *Executor) setupLeverage(ctx context.Context, longVenue, shortVenue exchange.Exchange, symbol string) {
	for _, v := range []exchange.Exchange{longVenue, shortVenue} {
		if err := v.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
			e.logger.Warn("set leverage failed",
				slog.String("exchange", v.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// checkNoVenuePosition rejects entry when either venue already holds the
// symbol.
func (e *Executor) checkNoVenuePosition(ctx context.Context, longVenue, shortVenue exchange.Exchange, symbol string) error {
	for _, v := range []exchange.Exchange{longVenue, shortVenue} {
		positions, err := v.Positions(ctx)
		if err != nil {
			return fmt.Errorf("executor: positions %s: %w", v.Name(), err)
		}
		for _, pos := range positions {
			if pos.Symbol == symbol {
				return fmt.Errorf("%w: %s on %s", domain.ErrPositionExists, symbol, v.Name())
			}
		}
	}
	return nil
}

func legFromResult(venue string, side domain.OrderSide, qty decimal.Decimal, res domain.OrderResult) domain.ExecLeg {
	leg := domain.ExecLeg{
		Exchange:     venue,
		Side:         side,
		OrderID:      res.OrderID,
		Quantity:     qty,
		AvgFillPrice: res.AvgFillPrice,
		FeeUSD:       res.FeeUSD,
		Status:       res.Status,
	}
	if !res.FilledQty.IsZero() {
		leg.Quantity = res.FilledQty
	}
	if leg.Status == "" {
		leg.Status = domain.OrderStatusFailed
	}
	return leg
}

func legError(longErr, shortErr error, longRes, shortRes domain.OrderResult) string {
	msg := func(err error, res domain.OrderResult) string {
		if err != nil {
			return err.Error()
		}
		return res.Message
	}
	return fmt.Sprintf("long: %s; short: %s", msg(longErr, longRes), msg(shortErr, shortRes))
}

// recordExecution persists the execution and announces it on the bus so the
// WebSocket hub can relay it.
func (e *Executor) recordExecution(ctx context.Context, exec domain.Execution) {
	if e.execs != nil {
		if err := e.execs.Create(ctx, exec); err != nil {
			e.logger.Warn("execution record failed", slog.String("error", err.Error()))
		}
	}
	if e.bus != nil {
		if payload, err := json.Marshal(exec); err == nil {
			if err := e.bus.Publish(ctx, "executions", payload); err != nil {
				e.logger.Debug("execution publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Executor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
}

package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// FormatPositionOpened renders the alert body for a freshly opened
// arbitrage position.
func FormatPositionOpened(pos domain.ArbPosition) (title, message string) {
	title = fmt.Sprintf("Position opened: %s", pos.Symbol)
	message = fmt.Sprintf(
		"Long %s / Short %s\nCollateral: %s USDC x%d\nNotional: %s USDC\nEntry APR: %.1f%%",
		pos.LongExchange, pos.ShortExchange,
		pos.CollateralUSD.StringFixed(2), pos.Leverage,
		pos.NotionalUSD.StringFixed(2),
		pos.EntryAPR,
	)
	return title, message
}

// FormatPositionClosed renders the alert body for a closed position.
func FormatPositionClosed(pos domain.ArbPosition, reason domain.CloseReason) (title, message string) {
	title = fmt.Sprintf("Position closed: %s (%s)", pos.Symbol, reason)
	message = fmt.Sprintf(
		"Held %.1fh\nFunding received: %s USDC\nPnL: %s USDC",
		pos.Age(time.Now()).Hours(),
		pos.FundingReceivedUSD.StringFixed(2),
		pos.PnLUSD.StringFixed(2),
	)
	return title, message
}

// FormatRollback renders the alert body after a partial entry was unwound.
func FormatRollback(symbol, failedLeg string) (title, message string) {
	title = fmt.Sprintf("Rollback: %s", symbol)
	message = fmt.Sprintf("The %s leg failed; the filled leg was closed.", failedLeg)
	return title, message
}

// FormatDailySummary renders the end-of-day report.
func FormatDailySummary(sum domain.DailySummary) (title, message string) {
	title = fmt.Sprintf("Daily summary %s", sum.Date)

	var b strings.Builder
	fmt.Fprintf(&b, "Opened: %d | Closed: %d\n", sum.PositionsOpened, sum.PositionsClosed)
	fmt.Fprintf(&b, "Funding received: %.2f USDC\n", sum.FundingReceivedUSD)
	fmt.Fprintf(&b, "Realized PnL: %.2f USDC\n", sum.RealizedPnLUSD)
	fmt.Fprintf(&b, "Capital utilization: %.0f%%", sum.CapitalUtilization*100)
	if sum.BestSymbol != "" {
		fmt.Fprintf(&b, "\nBest symbol: %s (%.1f%% APR)", sum.BestSymbol, sum.BestSymbolAPR)
	}
	return title, b.String()
}

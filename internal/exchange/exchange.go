// Package exchange defines the venue-neutral trading interface implemented by
// the Orderly and Hyperliquid clients, plus shared symbol helpers.
package exchange

import (
	"context"
	"strings"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// Exchange is the venue contract the collector, executor and portfolio layers
// trade through. Symbols cross this boundary in canonical "BASE-PERP" form;
// each implementation maps them to its own wire format internally.
type Exchange interface {
	// Name returns the venue identifier ("orderly", "hyperliquid").
	Name() string

	// FundingRates returns current funding for all perpetuals, symbols in
	// canonical form and APR annualised for the venue's funding period.
	FundingRates(ctx context.Context) ([]domain.FundingRate, error)

	// Balance returns the account collateral snapshot in USD terms.
	Balance(ctx context.Context) (domain.Balance, error)

	// Positions returns all open positions on the venue.
	Positions(ctx context.Context) ([]domain.ExchangePosition, error)

	// SetLeverage configures cross leverage for a symbol before entry.
	// Implementations clamp to the venue maximum.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder submits a market order for one leg.
	PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// ClosePosition flattens any open position on the symbol with a
	// reduce-only market order. Returns nil if no position is open.
	ClosePosition(ctx context.Context, symbol string) error
}

// BaseSymbol extracts the base asset from a canonical symbol:
// "BTC-PERP" -> "BTC". Unrecognised symbols are returned unchanged.
func BaseSymbol(symbol string) string {
	base, ok := strings.CutSuffix(symbol, "-PERP")
	if !ok {
		return symbol
	}
	return base
}

// CanonicalSymbol builds the canonical form from a base asset:
// "BTC" -> "BTC-PERP".
func CanonicalSymbol(base string) string {
	return base + "-PERP"
}

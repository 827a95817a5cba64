package handler

import (
	"log/slog"
	"net/http"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// RatesHandler serves funding-rate endpoints from the cache (current) and
// the database (history).
type RatesHandler struct {
	cache     domain.FundingCache
	store     domain.FundingStore
	symbols   []string
	exchanges []string
	logger    *slog.Logger
}

// NewRatesHandler creates a RatesHandler for the configured symbols and
// venues.
func NewRatesHandler(cache domain.FundingCache, store domain.FundingStore, symbols, exchanges []string, logger *slog.Logger) *RatesHandler {
	return &RatesHandler{
		cache:     cache,
		store:     store,
		symbols:   symbols,
		exchanges: exchanges,
		logger:    logger,
	}
}

// rateView is the JSON shape of one funding sample.
type rateView struct {
	Exchange      string  `json:"exchange"`
	Symbol        string  `json:"symbol"`
	Rate          float64 `json:"rate"`
	APR           float64 `json:"apr"`
	MarkPrice     float64 `json:"mark_price"`
	NextFundingAt string  `json:"next_funding_at,omitempty"`
	FetchedAt     string  `json:"fetched_at"`
}

func toRateView(r domain.FundingRate) rateView {
	v := rateView{
		Exchange:  r.Exchange,
		Symbol:    r.Symbol,
		Rate:      r.Rate,
		APR:       r.APR,
		MarkPrice: r.MarkPrice,
		FetchedAt: r.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if !r.NextFundingAt.IsZero() {
		v.NextFundingAt = r.NextFundingAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

// ListRates returns the latest cached funding rate per venue for every
// tracked symbol, or a single symbol when the query parameter is set.
// GET /api/rates?symbol=BTC-PERP
func (h *RatesHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	symbols := h.symbols
	if s := r.URL.Query().Get("symbol"); s != "" {
		symbols = []string{s}
	}

	out := make(map[string][]rateView, len(symbols))
	for _, sym := range symbols {
		rates, err := h.cache.GetSymbol(r.Context(), sym, h.exchanges)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list rates failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read funding rates")
			return
		}
		views := make([]rateView, 0, len(rates))
		for _, rate := range rates {
			views = append(views, toRateView(rate))
		}
		out[sym] = views
	}

	writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

// RateHistory returns stored funding samples for one symbol, newest first.
// GET /api/rates/history?symbol=BTC-PERP&limit=100&since=2026-08-01
func (h *RatesHandler) RateHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	rates, err := h.store.ListBySymbol(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: rate history failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read funding history")
		return
	}

	views := make([]rateView, 0, len(rates))
	for _, rate := range rates {
		views = append(views, toRateView(rate))
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "rates": views})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// OpportunitiesHandler serves the current opportunity set from the cache.
type OpportunitiesHandler struct {
	cache  domain.OpportunityCache
	logger *slog.Logger
}

// NewOpportunitiesHandler creates an OpportunitiesHandler.
func NewOpportunitiesHandler(cache domain.OpportunityCache, logger *slog.Logger) *OpportunitiesHandler {
	return &OpportunitiesHandler{cache: cache, logger: logger}
}

// listOpportunitiesResponse wraps the opportunity list response.
type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListOpportunities returns the opportunities detected in the latest cycle,
// ordered by priority.
// GET /api/opportunities
func (h *OpportunitiesHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.cache.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// GetOpportunity returns the current opportunity for one symbol.
// GET /api/opportunities/{symbol}
func (h *OpportunitiesHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	opp, err := h.cache.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no current opportunity for symbol")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get opportunity failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get opportunity")
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

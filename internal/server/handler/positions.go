package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// PositionsHandler serves dual-leg position endpoints.
type PositionsHandler struct {
	store  domain.ArbPositionStore
	logger *slog.Logger
}

// NewPositionsHandler creates a PositionsHandler backed by the given store.
func NewPositionsHandler(store domain.ArbPositionStore, logger *slog.Logger) *PositionsHandler {
	return &PositionsHandler{store: store, logger: logger}
}

// listPositionsResponse wraps the position list response.
type listPositionsResponse struct {
	Positions []domain.ArbPosition `json:"positions"`
}

// ListOpen returns all currently open positions.
// GET /api/positions
func (h *PositionsHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.GetOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list open positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	if positions == nil {
		positions = []domain.ArbPosition{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListHistory returns closed positions, newest first.
// GET /api/positions/history?limit=50&since=2026-08-01
func (h *PositionsHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}

	if positions == nil {
		positions = []domain.ArbPosition{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single position by id.
// GET /api/positions/{id}
func (h *PositionsHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing position id")
		return
	}

	pos, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

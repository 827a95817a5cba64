package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// ExecutionsHandler serves dual-leg execution endpoints.
type ExecutionsHandler struct {
	store  domain.ExecutionStore
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler backed by the given store.
func NewExecutionsHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{store: store, logger: logger}
}

// ListExecutions returns recent executions with their legs, newest first.
// GET /api/executions?limit=50
func (h *ExecutionsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	execs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// GetExecution returns a single execution by id.
// GET /api/executions/{id}
func (h *ExecutionsHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	exec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

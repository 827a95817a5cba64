package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// SummaryStore provides the daily aggregate the summary handler serves.
type SummaryStore interface {
	SummarizeDay(ctx context.Context, day time.Time) (domain.DailySummary, error)
}

// SummaryHandler serves per-day trading summaries.
type SummaryHandler struct {
	store  SummaryStore
	logger *slog.Logger
}

// NewSummaryHandler creates a SummaryHandler backed by the given store.
func NewSummaryHandler(store SummaryStore, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{store: store, logger: logger}
}

// GetSummary returns the trading summary for a UTC day, defaulting to today.
// GET /api/summary?date=2026-08-29
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}

	summary, err := h.store.SummarizeDay(r.Context(), day)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: summarize day failed",
			slog.String("date", day.Format("2006-01-02")),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to summarize day")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

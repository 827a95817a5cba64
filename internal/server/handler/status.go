package handler

import (
	"net/http"
	"time"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// StatusProvider reports the bot's current operational state.
type StatusProvider interface {
	Status() domain.BotStatus
}

// StatusHandler serves the bot status endpoint for dashboards.
type StatusHandler struct {
	provider StatusProvider
	mode     string
}

// NewStatusHandler creates a StatusHandler. The provider may be nil when the
// process runs in a mode without a trading loop (e.g. server-only).
func NewStatusHandler(provider StatusProvider, mode string) *StatusHandler {
	return &StatusHandler{provider: provider, mode: mode}
}

// GetStatus responds with the current bot state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":    h.mode,
			"running": false,
		})
		return
	}

	st := h.provider.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              st.Mode,
		"running":           true,
		"uptime_seconds":    st.UptimeSeconds,
		"open_positions":    st.OpenPositions,
		"cycles_completed":  st.CyclesCompleted,
		"last_cycle_at":     st.LastCycleAt.UTC().Format(time.RFC3339),
		"last_cycle_millis": st.LastCycleMillis,
		"ws_connected":      st.WSConnected,
	})
}

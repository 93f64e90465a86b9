package handler

import (
	"log/slog"
	"net/http"

	"fabula/internal/domain/services"
	"fabula/internal/httputil"
)

// TimerHandler handles timed-event HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type TimerHandler struct {
	timerService services.TimerService
	logger       *slog.Logger
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(timerService services.TimerService, logger *slog.Logger) *TimerHandler {
	return &TimerHandler{
		timerService: timerService,
		logger:       logger,
	}
}

// GetActiveTimer retrieves the campaign's pending timer
// GET /api/campaigns/{id}/timer
// Returns 404 when nothing is scheduled
func (h *TimerHandler) GetActiveTimer(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	timer, err := h.timerService.GetActiveTimer(r.Context(), campaignID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, timer)
}

// BindMessage attaches the surface countdown message to a scheduled timer
// POST /api/timers/{id}/bind
// Returns 409 when the timer already fired or was cancelled
func (h *TimerHandler) BindMessage(w http.ResponseWriter, r *http.Request) {
	timerID, ok := PathParam(w, r, "id", "Timer ID")
	if !ok {
		return
	}

	var req services.BindTimerRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MessageID == "" || req.ChannelID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "message_id and channel_id are required")
		return
	}

	bound, err := h.timerService.BindMessage(r.Context(), timerID, &req)
	if err != nil {
		handleError(w, err)
		return
	}
	if !bound {
		httputil.RespondError(w, http.StatusConflict, "timer is no longer active")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"timer_id": timerID,
		"bound":    true,
	})
}

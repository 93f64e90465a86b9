package handler

import (
	"log/slog"
	"net/http"

	"fabula/internal/domain/services"
	"fabula/internal/httputil"
)

// PlayerHandler handles player progression HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type PlayerHandler struct {
	progressionService services.ProgressionService
	logger             *slog.Logger
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(progressionService services.ProgressionService, logger *slog.Logger) *PlayerHandler {
	return &PlayerHandler{
		progressionService: progressionService,
		logger:             logger,
	}
}

// LevelUp spends banked XP on the player's next level
// POST /api/campaigns/{id}/players/{actor}/level-up
// The result reports whether the level was taken and how much XP is missing
func (h *PlayerHandler) LevelUp(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}
	actorID, ok := PathParam(w, r, "actor", "Actor ID")
	if !ok {
		return
	}

	result, err := h.progressionService.LevelUp(r.Context(), campaignID, actorID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// AllocateAttributeRequest names the attribute receiving the point
type AllocateAttributeRequest struct {
	Attribute string `json:"attribute"`
}

// AllocateAttribute spends one unspent attribute point
// POST /api/campaigns/{id}/players/{actor}/attributes
func (h *PlayerHandler) AllocateAttribute(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}
	actorID, ok := PathParam(w, r, "actor", "Actor ID")
	if !ok {
		return
	}

	var req AllocateAttributeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.progressionService.AllocateAttributePoint(r.Context(), campaignID, actorID, req.Attribute)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

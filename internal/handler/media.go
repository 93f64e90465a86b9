package handler

import (
	"log/slog"
	"net/http"

	"fabula/internal/domain/services"
	"fabula/internal/httputil"
)

// MediaHandler handles media completion callbacks
// Follows Clean Architecture: handlers only communicate with services, never repositories
type MediaHandler struct {
	mediaService services.MediaService
	logger       *slog.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(mediaService services.MediaService, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		mediaService: mediaService,
		logger:       logger,
	}
}

// RecordCompletion records a finished scene or avatar generation
// POST /api/campaigns/{id}/media
// Called by the external media worker when an outbox-driven job completes
func (h *MediaHandler) RecordCompletion(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req services.MediaCompletionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.CampaignID = campaignID

	ref, err := h.mediaService.RecordCompletion(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, ref)
}

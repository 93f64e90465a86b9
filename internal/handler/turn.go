package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"fabula/internal/domain/ports"
	"fabula/internal/domain/services"
	"fabula/internal/httputil"
)

// TurnHandler handles turn resolution, history, rewind and memory filtering
// Follows Clean Architecture: handlers only communicate with services, never repositories
type TurnHandler struct {
	gameService   services.GameService
	rewindService services.RewindService
	memoryService services.MemoryService
	logger        *slog.Logger
}

// NewTurnHandler creates a new turn handler
func NewTurnHandler(
	gameService services.GameService,
	rewindService services.RewindService,
	memoryService services.MemoryService,
	logger *slog.Logger,
) *TurnHandler {
	return &TurnHandler{
		gameService:   gameService,
		rewindService: rewindService,
		memoryService: memoryService,
		logger:        logger,
	}
}

// ResolveTurn resolves one actor action against a campaign
// POST /api/campaigns/{id}/turns
// Returns 200 on ok, 409 on busy/conflict with the result envelope, 500 on
// engine failure
func (h *TurnHandler) ResolveTurn(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req services.PlayActionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.CampaignID = campaignID

	result, err := h.gameService.PlayAction(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	switch result.Resolve.Status {
	case services.StatusOK:
		httputil.RespondJSON(w, http.StatusOK, result)
	case services.StatusBusy, services.StatusConflict:
		httputil.RespondJSON(w, http.StatusConflict, result)
	default:
		h.logger.Error("turn resolution failed",
			"campaign_id", campaignID,
			"actor_id", req.ActorID,
			"reason", result.Resolve.Reason,
		)
		httputil.RespondError(w, http.StatusInternalServerError, "turn resolution failed")
	}
}

// ListTurns retrieves the newest turns of a campaign in ascending order
// GET /api/campaigns/{id}/turns?limit=:n
func (h *TurnHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	turns, err := h.gameService.RecentTurns(r.Context(), campaignID, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turns)
}

// RewindTurnRequest identifies the snapshot to restore and optionally the
// surface channel whose turns are deleted
type RewindTurnRequest struct {
	TurnID    int64   `json:"turn_id"`
	ChannelID *string `json:"channel_id,omitempty"`
}

// Rewind restores a campaign to the snapshot taken at a past turn
// POST /api/campaigns/{id}/rewind
func (h *TurnHandler) Rewind(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req RewindTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TurnID <= 0 {
		httputil.RespondError(w, http.StatusBadRequest, "turn_id must be a positive integer")
		return
	}

	result := h.rewindService.Rewind(r.Context(), &services.RewindRequest{
		CampaignID:   campaignID,
		TargetTurnID: req.TurnID,
		ChannelID:    req.ChannelID,
	})

	switch result.Status {
	case services.StatusOK:
		httputil.RespondJSON(w, http.StatusOK, result)
	case services.StatusConflict:
		httputil.RespondJSON(w, http.StatusConflict, result)
	default:
		switch result.Reason {
		case services.RewindCampaignNotFound, services.RewindSnapshotNotFound, services.RewindChannelNotFound:
			httputil.RespondError(w, http.StatusNotFound, result.Reason)
		default:
			h.logger.Error("rewind failed",
				"campaign_id", campaignID,
				"turn_id", req.TurnID,
				"reason", result.Reason,
			)
			httputil.RespondError(w, http.StatusInternalServerError, "rewind failed")
		}
	}
}

// FilterMemoryRequest carries memory hits to check against the campaign's
// visibility watermark
type FilterMemoryRequest struct {
	Hits []ports.MemoryHit `json:"hits"`
}

// FilterMemory drops memory hits hidden by the campaign's rewind watermark
// POST /api/campaigns/{id}/memory/filter
func (h *TurnHandler) FilterMemory(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req FilterMemoryRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hits, err := h.memoryService.FilterVisible(r.Context(), campaignID, req.Hits)
	if err != nil {
		handleError(w, err)
		return
	}
	if hits == nil {
		hits = []ports.MemoryHit{}
	}

	httputil.RespondJSON(w, http.StatusOK, FilterMemoryRequest{Hits: hits})
}

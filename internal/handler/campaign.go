package handler

import (
	"log/slog"
	"net/http"

	"fabula/internal/domain/models"
	"fabula/internal/domain/services"
	"fabula/internal/httputil"
)

// CampaignHandler handles campaign HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type CampaignHandler struct {
	campaignService services.CampaignService
	logger          *slog.Logger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService services.CampaignService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
		logger:          logger,
	}
}

// CreateCampaign creates a new campaign
// POST /api/campaigns
// Returns 201 if created, 409 with the existing campaign if the name is taken
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req services.CreateCampaignRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleCreateConflict(w, err, func() (*models.Campaign, error) {
			return h.campaignService.GetOrCreateByName(r.Context(), req.Namespace, req.Name, req.CreatedByActorID)
		})
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, campaign)
}

// GetCampaign retrieves a single campaign by ID
// GET /api/campaigns/{id}
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), campaignID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, campaign)
}

// ListCampaigns retrieves all campaigns in a namespace
// GET /api/campaigns?namespace=:ns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		httputil.RespondError(w, http.StatusBadRequest, "namespace query parameter is required")
		return
	}

	campaigns, err := h.campaignService.ListCampaigns(r.Context(), namespace)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, campaigns)
}

// SetSpeedRequest carries the timer speed multiplier
type SetSpeedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

// SetSpeed updates the campaign's timer speed multiplier
// PUT /api/campaigns/{id}/speed
// The stored value is clamped; the response reports what was kept
func (h *CampaignHandler) SetSpeed(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req SetSpeedRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	multiplier, err := h.campaignService.SetSpeedMultiplier(r.Context(), campaignID, req.Multiplier)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"campaign_id": campaignID,
		"multiplier":  multiplier,
	})
}

// SetFlags updates the operator toggles (on_rails, timed_events_enabled)
// PUT /api/campaigns/{id}/flags
func (h *CampaignHandler) SetFlags(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := PathParam(w, r, "id", "Campaign ID")
	if !ok {
		return
	}

	var req services.UpdateFlagsRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	campaign, err := h.campaignService.SetFlags(r.Context(), campaignID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, campaign)
}

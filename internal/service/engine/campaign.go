package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

var (
	nameWhitespacePattern = regexp.MustCompile(`\s+`)
	nameCharsPattern      = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)
)

// normalizeCampaignName canonicalizes a display name for uniqueness within
// a namespace: collapse whitespace, keep word characters only, lowercase,
// cap at 64. Empty input falls back to "main".
func normalizeCampaignName(value string) string {
	value = strings.TrimSpace(value)
	value = nameWhitespacePattern.ReplaceAllString(value, " ")
	value = nameCharsPattern.ReplaceAllString(value, "")
	value = strings.ToLower(value)
	if len(value) > 64 {
		value = value[:64]
	}
	if value == "" {
		return "main"
	}
	return value
}

// campaignService implements the CampaignService interface
type campaignService struct {
	store     *repositories.Store
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(store *repositories.Store, txManager repositories.TransactionManager, logger *slog.Logger) services.CampaignService {
	return &campaignService{
		store:     store,
		txManager: txManager,
		logger:    logger,
	}
}

// CreateCampaign creates a campaign with a normalized name, optionally
// seeded from an embedded preset.
func (s *campaignService) CreateCampaign(ctx context.Context, req *services.CreateCampaignRequest) (*models.Campaign, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var preset *config.CampaignPreset
	if req.Preset != "" {
		p, err := config.LookupPreset(req.Preset)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		preset = p
	}

	campaign, err := s.create(ctx, req.Namespace, req.Name, req.CreatedByActorID, preset)
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign created",
		"campaign_id", campaign.ID,
		"namespace", campaign.Namespace,
		"name_normalized", campaign.NameNormalized,
		"preset", req.Preset,
	)
	return campaign, nil
}

// validateCreateRequest validates a campaign creation request
func (s *campaignService) validateCreateRequest(req *services.CreateCampaignRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Namespace, validation.Required, validation.Length(1, 128)),
		validation.Field(&req.Name, validation.Required, validation.Length(1, config.MaxCampaignNameLength)),
	)
}

func (s *campaignService) create(ctx context.Context, namespace, name string, createdBy *string, preset *config.CampaignPreset) (*models.Campaign, error) {
	displayName := strings.TrimSpace(name)
	normalized := normalizeCampaignName(name)
	if displayName == "" {
		displayName = normalized
	}

	campaign := &models.Campaign{
		Namespace:        namespace,
		Name:             displayName,
		NameNormalized:   normalized,
		CreatedByActorID: createdBy,
		Summary:          "",
		State:            map[string]any{},
		Characters:       map[string]any{},
	}
	if preset != nil {
		campaign.Summary = preset.Summary
		if state := deepCopyMap(preset.State); state != nil {
			campaign.State = state
		}
		if persona := strings.TrimSpace(preset.DefaultPersona); persona != "" {
			campaign.State[models.StateKeyDefaultPersona] = truncateRunes(persona, config.MaxPersonaPromptChars)
		}
		if characters := deepCopyMap(preset.Characters); characters != nil {
			campaign.Characters = characters
		}
		if opening := strings.TrimSpace(preset.OpeningNarration); opening != "" {
			campaign.LastNarration = &opening
		}
	}

	if err := s.store.Campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetCampaign retrieves a campaign by ID
func (s *campaignService) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return s.store.Campaigns.Get(ctx, id)
}

// GetOrCreateByName resolves a campaign by normalized name, creating it on
// first use. A first-use name matching a preset (or one of its aliases)
// seeds the preset world.
func (s *campaignService) GetOrCreateByName(ctx context.Context, namespace, name string, createdBy *string) (*models.Campaign, error) {
	normalized := normalizeCampaignName(name)
	campaign, err := s.store.Campaigns.GetByName(ctx, namespace, normalized)
	if err == nil {
		return campaign, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup campaign: %w", err)
	}

	preset, _ := config.LookupPreset(normalized)
	created, err := s.create(ctx, namespace, name, createdBy, preset)
	if err == nil {
		s.logger.Info("campaign created on first use",
			"campaign_id", created.ID,
			"namespace", namespace,
			"name_normalized", normalized,
			"preset_applied", preset != nil,
		)
		return created, nil
	}

	// Two surfaces racing on the same fresh name; one insert wins and the
	// loser reads it back.
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return s.store.Campaigns.GetByName(ctx, namespace, normalized)
	}
	return nil, err
}

// ListCampaigns retrieves all campaigns in a namespace
func (s *campaignService) ListCampaigns(ctx context.Context, namespace string) ([]models.Campaign, error) {
	return s.store.Campaigns.ListByNamespace(ctx, namespace)
}

// SetSpeedMultiplier clamps and stores the timer speed multiplier. The
// write skips the row version on purpose; pacing knobs must never abort
// an in-flight turn commit.
func (s *campaignService) SetSpeedMultiplier(ctx context.Context, campaignID string, multiplier float64) (float64, error) {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return 0, fmt.Errorf("%w: speed multiplier must be a finite number", domain.ErrValidation)
	}

	campaign, err := s.store.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	clamped := clampSpeedMultiplier(multiplier)
	state := campaign.State
	if state == nil {
		state = map[string]any{}
	}
	state[models.StateKeySpeedMultiplier] = clamped
	if err := s.store.Campaigns.UpdateState(ctx, campaignID, state, time.Now()); err != nil {
		return 0, fmt.Errorf("update state: %w", err)
	}

	s.logger.Info("speed multiplier updated",
		"campaign_id", campaignID,
		"multiplier", clamped,
	)
	return clamped, nil
}

// SetFlags updates the operator toggles in the state document. Disabling
// timed events also cancels the pending timer so nothing fires into a
// paused campaign.
func (s *campaignService) SetFlags(ctx context.Context, campaignID string, req *services.UpdateFlagsRequest) (*models.Campaign, error) {
	if req == nil {
		req = &services.UpdateFlagsRequest{}
	}

	campaign, err := s.store.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	state := campaign.State
	if state == nil {
		state = map[string]any{}
	}
	if req.OnRails != nil {
		state[models.StateKeyOnRails] = *req.OnRails
	}
	cancelTimer := false
	if req.TimedEventsEnabled != nil {
		state[models.StateKeyTimedEvents] = *req.TimedEventsEnabled
		cancelTimer = !*req.TimedEventsEnabled
	}

	now := time.Now()
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if err := s.store.Campaigns.UpdateState(ctx, campaignID, state, now); err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		if cancelTimer {
			if _, err := s.store.Timers.CancelActive(ctx, campaignID, now); err != nil {
				return fmt.Errorf("cancel active timer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	campaign.State = state
	campaign.UpdatedAt = now
	s.logger.Info("campaign flags updated",
		"campaign_id", campaignID,
		"timer_cancelled", cancelTimer,
	)
	return campaign, nil
}

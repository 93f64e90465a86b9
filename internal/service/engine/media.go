package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// mediaService implements the MediaService interface
type mediaService struct {
	store     *repositories.Store
	txManager repositories.TransactionManager
	clock     func() time.Time
	logger    *slog.Logger
}

// NewMediaService creates a new media service
func NewMediaService(store *repositories.Store, txManager repositories.TransactionManager, logger *slog.Logger) services.MediaService {
	return &mediaService{
		store:     store,
		txManager: txManager,
		clock:     time.Now,
		logger:    logger,
	}
}

// RecordCompletion stores a delivered generation. Scene refs are keyed by
// their normalized room; player avatar refs additionally stamp avatar_url
// into the player's state so the next party snapshot picks it up.
// Character portraits stay lookup-only: the roster document belongs to
// the narrator, and a presentation url is not worth a row-version bump.
func (s *mediaService) RecordCompletion(ctx context.Context, req *services.MediaCompletionRequest) (*models.MediaRef, error) {
	if err := validateMediaCompletion(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	ref := &models.MediaRef{
		CampaignID: req.CampaignID,
		RefType:    req.RefType,
		URL:        req.URL,
		Metadata:   req.Metadata,
	}
	if req.Prompt != "" {
		prompt := req.Prompt
		ref.Prompt = &prompt
	}
	if req.RefType == models.MediaRefScene {
		roomKey := NormalizeRoomKey(req.RoomKey)
		if roomKey == "" {
			roomKey = "unknown-room"
		}
		ref.RoomKey = &roomKey
	}

	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if req.RefType == models.MediaRefAvatar && req.ActorID != nil && !isCharacterPortrait(req.Metadata) {
			if err := s.stampPlayerAvatar(ctx, req.CampaignID, *req.ActorID, req.URL, ref); err != nil {
				return err
			}
		}
		if err := s.store.Media.Record(ctx, ref); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("media completion recorded",
		"campaign_id", ref.CampaignID,
		"ref_type", ref.RefType,
		"room_key", ref.RoomKey,
	)
	return ref, nil
}

// stampPlayerAvatar links the ref to the player row and writes avatar_url
// into player state. An unknown player is not an error: the worker may
// report after a rewind removed the row.
func (s *mediaService) stampPlayerAvatar(ctx context.Context, campaignID, actorID, url string, ref *models.MediaRef) error {
	player, err := s.store.Players.GetByCampaignActor(ctx, campaignID, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("avatar completion for unknown player",
				"campaign_id", campaignID,
				"actor_id", actorID,
			)
			return nil
		}
		return fmt.Errorf("load player: %w", err)
	}

	ref.PlayerID = &player.ID
	if player.State == nil {
		player.State = map[string]any{}
	}
	player.State["avatar_url"] = url
	if err := s.store.Players.Update(ctx, player); err != nil {
		return fmt.Errorf("stamp avatar url: %w", err)
	}
	return nil
}

// LatestScene returns the newest scene image recorded for a room.
func (s *mediaService) LatestScene(ctx context.Context, campaignID, roomKey string) (*models.MediaRef, error) {
	normalized := NormalizeRoomKey(roomKey)
	if normalized == "" {
		return nil, fmt.Errorf("room key is required: %w", domain.ErrValidation)
	}
	return s.store.Media.LatestSceneForRoom(ctx, campaignID, normalized)
}

func validateMediaCompletion(req *services.MediaCompletionRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.CampaignID, validation.Required),
		validation.Field(&req.RefType, validation.Required,
			validation.In(models.MediaRefScene, models.MediaRefAvatar)),
		validation.Field(&req.URL, validation.Required),
	)
}

func isCharacterPortrait(metadata map[string]any) bool {
	slug, _ := metadata["character_slug"].(string)
	return slug != ""
}

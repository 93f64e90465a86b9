package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// rewindService implements the RewindService interface
type rewindService struct {
	store     *repositories.Store
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewRewindService creates a new rewind service
func NewRewindService(store *repositories.Store, txManager repositories.TransactionManager, logger *slog.Logger) services.RewindService {
	return &rewindService{
		store:     store,
		txManager: txManager,
		logger:    logger,
	}
}

// Rewind restores the campaign row, player rows and turn log to the
// snapshot taken at the target turn, in one transaction. The campaign
// restore is a compare-and-set against the current row version, so a
// rewind racing a turn commit loses cleanly.
func (s *rewindService) Rewind(ctx context.Context, req *services.RewindRequest) *services.RewindResult {
	now := time.Now()
	result := &services.RewindResult{TargetTurnID: req.TargetTurnID}

	sessionIDs := req.SessionIDs
	if req.ChannelID != nil && *req.ChannelID != "" {
		ids, err := s.store.Sessions.ListIDsByChannel(ctx, req.CampaignID, *req.ChannelID)
		if err != nil {
			result.Status = services.StatusError
			result.Reason = fmt.Sprintf("resolve channel sessions: %v", err)
			return result
		}
		sessionIDs = append(sessionIDs, ids...)
		if len(sessionIDs) == 0 {
			// No sessions means no turns to delete; an empty scope would
			// fall through to an unscoped delete of every channel's turns.
			result.Status = services.StatusError
			result.Reason = services.RewindChannelNotFound
			return result
		}
	}

	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		campaign, err := s.store.Campaigns.Get(ctx, req.CampaignID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				result.Status = services.StatusError
				result.Reason = services.RewindCampaignNotFound
				return nil
			}
			return fmt.Errorf("load campaign: %w", err)
		}

		snapshot, err := s.store.Snapshots.GetByTurn(ctx, req.CampaignID, req.TargetTurnID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				result.Status = services.StatusError
				result.Reason = services.RewindSnapshotNotFound
				return nil
			}
			return fmt.Errorf("load snapshot: %w", err)
		}

		// Restoring also drags the memory visibility watermark back to the
		// target, hiding memories of the undone turns immediately even
		// though the external index prunes asynchronously.
		casOK, err := s.store.Campaigns.CASApplyUpdate(ctx, &repositories.CampaignCASUpdate{
			CampaignID:             req.CampaignID,
			ExpectedRowVersion:     campaign.RowVersion,
			Summary:                snapshot.CampaignSummary,
			State:                  snapshot.CampaignState,
			Characters:             snapshot.CampaignCharacters,
			LastNarration:          snapshot.CampaignNarration,
			MemoryVisibleMaxTurnID: &req.TargetTurnID,
			Now:                    now,
		})
		if err != nil {
			return fmt.Errorf("restore campaign: %w", err)
		}
		if !casOK {
			result.Status = services.StatusConflict
			result.Reason = services.RewindRowVersionConflict
			return nil
		}

		players, err := s.store.Players.ListByCampaign(ctx, req.CampaignID)
		if err != nil {
			return fmt.Errorf("list players: %w", err)
		}
		byActor := make(map[string]*models.Player, len(players))
		for i := range players {
			byActor[players[i].ActorID] = &players[i]
		}
		for _, entry := range snapshotPlayerEntries(snapshot.Players) {
			actorID := stringValue(entry["actor_id"])
			if actorID == "" {
				continue
			}
			player, ok := byActor[actorID]
			if !ok {
				// Joined after the snapshot; left untouched.
				continue
			}
			if raw, present := entry["level"]; present {
				if level, ok := toInt(raw); ok {
					player.Level = level
				}
			}
			if raw, present := entry["xp"]; present {
				if xp, ok := toInt(raw); ok {
					player.XP = xp
				}
			}
			if attrs, ok := entry["attributes"].(map[string]any); ok {
				player.Attributes = attrs
			}
			if state, ok := entry["state"].(map[string]any); ok {
				player.State = state
			}
			player.UpdatedAt = now
			if err := s.store.Players.Update(ctx, player); err != nil {
				return fmt.Errorf("restore player %s: %w", actorID, err)
			}
		}

		if _, err := s.store.Snapshots.DeleteAfterTurn(ctx, req.CampaignID, req.TargetTurnID); err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		deleted, err := s.store.Turns.DeleteAfter(ctx, req.CampaignID, req.TargetTurnID, sessionIDs)
		if err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}

		event := &models.OutboxEvent{
			CampaignID:     req.CampaignID,
			EventType:      models.EventMemoryPruneRequest,
			IdempotencyKey: fmt.Sprintf("rewind:%d", req.TargetTurnID),
			Payload: map[string]any{
				"campaign_id":   req.CampaignID,
				"after_turn_id": req.TargetTurnID,
			},
		}
		if err := s.store.Outbox.Add(ctx, event); err != nil {
			return fmt.Errorf("enqueue memory prune: %w", err)
		}

		result.Status = services.StatusOK
		result.DeletedTurns = deleted
		return nil
	})
	if err != nil {
		s.logger.Error("rewind failed",
			"campaign_id", req.CampaignID,
			"target_turn_id", req.TargetTurnID,
			"error", err,
		)
		return &services.RewindResult{
			Status:       services.StatusError,
			Reason:       err.Error(),
			TargetTurnID: req.TargetTurnID,
		}
	}

	if result.Status == services.StatusOK {
		s.logger.Info("campaign rewound",
			"campaign_id", req.CampaignID,
			"target_turn_id", req.TargetTurnID,
			"deleted_turns", result.DeletedTurns,
		)
	}
	return result
}

// snapshotPlayerEntries decodes the players payload leniently; anything
// that is not a list of objects contributes nothing.
func snapshotPlayerEntries(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}
	raw, _ := payload["players"].([]any)
	entries := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

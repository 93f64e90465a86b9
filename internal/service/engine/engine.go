// Package engine implements the game core: two-phase turn resolution
// with optimistic concurrency, snapshot-based rewind, memory visibility,
// campaign and player lifecycle, and the state-document rules (patches,
// calendar, characters, inventory) the narrator's output is held to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// fallbackNarration stands in when the model returns no usable prose.
const fallbackNarration = "The world shifts, but nothing clear emerges."

// EngineConfig tunes the resolve loop. Zero values fall back to the
// package defaults.
type EngineConfig struct {
	LeaseTTL           time.Duration
	MaxConflictRetries int
	Clock              func() time.Time
}

// turnEngineService implements the TurnEngineService interface
type turnEngineService struct {
	store      *repositories.Store
	txManager  repositories.TransactionManager
	llm        ports.LLMPort
	resolver   ports.ActorResolverPort
	leaseTTL   time.Duration
	maxRetries int
	clock      func() time.Time
	logger     *slog.Logger
}

// NewTurnEngineService creates a new turn engine service
func NewTurnEngineService(
	store *repositories.Store,
	txManager repositories.TransactionManager,
	llm ports.LLMPort,
	resolver ports.ActorResolverPort,
	cfg *EngineConfig,
	logger *slog.Logger,
) services.TurnEngineService {
	leaseTTL := config.DefaultLeaseTTL
	maxRetries := config.DefaultMaxConflictRetries
	clock := time.Now
	if cfg != nil {
		if cfg.LeaseTTL > 0 {
			leaseTTL = cfg.LeaseTTL
		}
		if cfg.MaxConflictRetries > 0 {
			maxRetries = cfg.MaxConflictRetries
		}
		if cfg.Clock != nil {
			clock = cfg.Clock
		}
	}
	return &turnEngineService{
		store:      store,
		txManager:  txManager,
		llm:        llm,
		resolver:   resolver,
		leaseTTL:   leaseTTL,
		maxRetries: maxRetries,
		clock:      clock,
		logger:     logger,
	}
}

// ResolveTurn runs one action through claim, context build, LLM call and
// guarded commit. Stale claims retry with a fresh token up to the
// configured budget; busy never retries; anything else folds into an
// error status.
func (s *turnEngineService) ResolveTurn(ctx context.Context, req *services.ResolveTurnRequest) *services.ResolveTurnResult {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		claimToken := uuid.NewString()

		result, err := s.attempt(ctx, req, claimToken, attempt)
		if err == nil {
			return result
		}

		var busyErr *domain.BusyError
		if errors.As(err, &busyErr) {
			return &services.ResolveTurnResult{Status: services.StatusBusy, Reason: busyErr.Reason}
		}

		var staleErr *domain.StaleClaimError
		if errors.As(err, &staleErr) {
			s.releaseClaimBestEffort(ctx, req.CampaignID, req.ActorID, claimToken)
			if attempt < s.maxRetries {
				s.logger.Info("turn commit went stale, retrying",
					"campaign_id", req.CampaignID,
					"actor_id", req.ActorID,
					"reason", staleErr.Reason,
					"attempt", attempt,
				)
				continue
			}
			return &services.ResolveTurnResult{Status: services.StatusConflict, Reason: staleErr.Reason}
		}

		s.releaseClaimBestEffort(ctx, req.CampaignID, req.ActorID, claimToken)
		s.logger.Error("turn resolution failed",
			"campaign_id", req.CampaignID,
			"actor_id", req.ActorID,
			"error", err,
		)
		return &services.ResolveTurnResult{Status: services.StatusError, Reason: err.Error()}
	}
	return &services.ResolveTurnResult{Status: services.StatusConflict, Reason: "max_retries_exhausted"}
}

// attempt is one pass of the loop: Phase A, unlocked LLM call, optional
// pre-commit hook, Phase C.
func (s *turnEngineService) attempt(ctx context.Context, req *services.ResolveTurnRequest, claimToken string, attempt int) (*services.ResolveTurnResult, error) {
	turnCtx, err := s.phaseA(ctx, req, claimToken)
	if err != nil {
		return nil, err
	}

	llmOutput, err := s.llm.CompleteTurn(ctx, turnCtx)
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}
	if llmOutput == nil {
		return nil, errors.New("llm completion returned no output")
	}

	if req.BeforePhaseC != nil {
		if err := req.BeforePhaseC(ctx, turnCtx, attempt); err != nil {
			return nil, fmt.Errorf("before-commit hook: %w", err)
		}
	}

	return s.phaseC(ctx, req, turnCtx, claimToken, llmOutput)
}

// phaseA takes the claim and builds the consistent world snapshot the
// LLM will see, in one transaction.
func (s *turnEngineService) phaseA(ctx context.Context, req *services.ResolveTurnRequest, claimToken string) (*ports.TurnContext, error) {
	now := s.clock()
	expiresAt := now.Add(s.leaseTTL)

	var turnCtx *ports.TurnContext
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		campaign, err := s.store.Campaigns.Get(ctx, req.CampaignID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.BusyError{Reason: services.BusyCampaignNotFound}
			}
			return fmt.Errorf("load campaign: %w", err)
		}

		acquired, err := s.store.Inflight.AcquireOrSteal(ctx, req.CampaignID, req.ActorID, claimToken, now, expiresAt)
		if err != nil {
			return fmt.Errorf("acquire claim: %w", err)
		}
		if !acquired {
			return &domain.BusyError{Reason: services.BusyTurnInflight}
		}

		player, err := s.store.Players.Ensure(ctx, req.CampaignID, req.ActorID)
		if err != nil {
			return fmt.Errorf("ensure player: %w", err)
		}

		turns, err := s.store.Turns.Recent(ctx, req.CampaignID, config.MaxRecentTurns)
		if err != nil {
			return fmt.Errorf("load recent turns: %w", err)
		}
		recent := make([]ports.RecentTurn, 0, len(turns))
		for _, t := range turns {
			recent = append(recent, ports.RecentTurn{
				ID:        t.ID,
				Kind:      t.Kind,
				ActorID:   t.ActorID,
				Content:   t.Content,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
			})
		}

		turnCtx = &ports.TurnContext{
			CampaignID:         req.CampaignID,
			ActorID:            req.ActorID,
			SessionID:          req.SessionID,
			Action:             req.Action,
			CampaignState:      campaign.State,
			CampaignSummary:    campaign.Summary,
			CampaignCharacters: campaign.Characters,
			PlayerState:        player.State,
			PlayerLevel:        player.Level,
			PlayerXP:           player.XP,
			RecentTurns:        recent,
			StartRowVersion:    campaign.RowVersion,
			Now:                now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turnCtx, nil
}

// phaseC re-validates the claim and the row version, applies the
// narrator's output under the state-document rules, and commits
// everything behind one compare-and-set on the campaign row.
func (s *turnEngineService) phaseC(ctx context.Context, req *services.ResolveTurnRequest, turnCtx *ports.TurnContext, claimToken string, out *ports.LLMTurnOutput) (*services.ResolveTurnResult, error) {
	now := s.clock()
	result := &services.ResolveTurnResult{Status: services.StatusOK}

	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		valid, err := s.store.Inflight.ValidateToken(ctx, req.CampaignID, req.ActorID, claimToken, now)
		if err != nil {
			return fmt.Errorf("validate claim: %w", err)
		}
		if !valid {
			return &domain.StaleClaimError{Reason: services.ConflictClaimInvalid}
		}

		campaign, err := s.store.Campaigns.Get(ctx, req.CampaignID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.StaleClaimError{Reason: services.ConflictMissingCampaignOrPlayer}
			}
			return fmt.Errorf("reload campaign: %w", err)
		}
		player, err := s.store.Players.GetByCampaignActor(ctx, req.CampaignID, req.ActorID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.StaleClaimError{Reason: services.ConflictMissingCampaignOrPlayer}
			}
			return fmt.Errorf("reload player: %w", err)
		}
		if campaign.RowVersion != turnCtx.StartRowVersion {
			return &domain.StaleClaimError{Reason: services.ConflictRowVersionChanged}
		}

		// World state first, with the calendar instruction carved out of
		// the plain patch; then characters; then the guarded player patch.
		statePatch := out.StateUpdate
		var calendarUpdate map[string]any
		if raw, present := statePatch["calendar_update"]; present {
			calendarUpdate, _ = raw.(map[string]any)
			trimmed := make(map[string]any, len(statePatch))
			for key, value := range statePatch {
				if key != "calendar_update" {
					trimmed[key] = value
				}
			}
			statePatch = trimmed
		}
		campaignState := ApplyPatch(campaign.State, statePatch)
		campaignState = applyCalendarUpdate(campaignState, calendarUpdate)

		onRails, _ := campaignState[models.StateKeyOnRails].(bool)
		characters := applyCharacterUpdates(campaign.Characters, out.CharacterUpdates, onRails)

		playerState := ApplyPatch(player.State, sanitizePlayerStateUpdate(player.State, out.PlayerStateUpdate, req.Action, out.Narration))

		summary := appendSummary(campaign.Summary, out.SummaryUpdate)
		narration := strings.TrimSpace(out.Narration)
		if narration == "" {
			narration = fallbackNarration
		}

		// Unresolved hand-offs are observable but never fatal.
		giveItem, giveIssue := normalizeGiveItem(ctx, out.GiveItem, s.resolver)
		if giveIssue != "" {
			event := &models.OutboxEvent{
				CampaignID:     req.CampaignID,
				SessionID:      req.SessionID,
				EventType:      models.EventGiveItemUnresolved,
				IdempotencyKey: fmt.Sprintf("give_item_unresolved:%s:%s", req.ActorID, now.Format(time.RFC3339)),
				Payload: map[string]any{
					"campaign_id": req.CampaignID,
					"actor_id":    req.ActorID,
					"issue":       giveIssue,
					"give_item":   giveItemPayload(out.GiveItem),
				},
			}
			if err := s.store.Outbox.Add(ctx, event); err != nil {
				return fmt.Errorf("enqueue give_item_unresolved: %w", err)
			}
		}
		result.GiveItem = giveItem

		if out.XPAwarded > 0 {
			player.XP += out.XPAwarded
		}
		player.State = playerState
		player.LastActiveAt = &now
		player.UpdatedAt = now
		if err := s.store.Players.Update(ctx, player); err != nil {
			return fmt.Errorf("update player: %w", err)
		}

		if req.RecordPlayerTurn {
			playerTurn := &models.Turn{
				CampaignID: req.CampaignID,
				SessionID:  req.SessionID,
				ActorID:    &req.ActorID,
				Kind:       models.TurnKindPlayer,
				Content:    req.Action,
			}
			if err := s.store.Turns.Append(ctx, playerTurn); err != nil {
				return fmt.Errorf("append player turn: %w", err)
			}
			result.PlayerTurnID = &playerTurn.ID
		}
		narratorTurn := &models.Turn{
			CampaignID: req.CampaignID,
			SessionID:  req.SessionID,
			ActorID:    &req.ActorID,
			Kind:       models.TurnKindNarrator,
			Content:    narration,
		}
		if err := s.store.Turns.Append(ctx, narratorTurn); err != nil {
			return fmt.Errorf("append narrator turn: %w", err)
		}

		if req.AllowTimerInstruction && out.TimerInstruction != nil {
			if _, err := s.store.Timers.CancelActive(ctx, req.CampaignID, now); err != nil {
				return fmt.Errorf("cancel active timers: %w", err)
			}
			dueAt := now.Add(effectiveTimerDelay(out.TimerInstruction.DelaySeconds, speedFromState(campaignState)))
			timer := &models.Timer{
				CampaignID:      req.CampaignID,
				SessionID:       req.SessionID,
				Status:          models.TimerStatusScheduledUnbound,
				EventText:       out.TimerInstruction.EventText,
				Interruptible:   out.TimerInstruction.Interruptible,
				InterruptAction: out.TimerInstruction.InterruptAction,
				DueAt:           dueAt,
			}
			if err := s.store.Timers.Schedule(ctx, timer); err != nil {
				return fmt.Errorf("schedule timer: %w", err)
			}
			event := &models.OutboxEvent{
				CampaignID:     req.CampaignID,
				SessionID:      req.SessionID,
				EventType:      models.EventTimerScheduled,
				IdempotencyKey: fmt.Sprintf("timer_scheduled:%s", timer.ID),
				Payload: map[string]any{
					"timer_id":      timer.ID,
					"campaign_id":   req.CampaignID,
					"session_id":    req.SessionID,
					"due_at":        dueAt.Format(time.RFC3339),
					"event_text":    out.TimerInstruction.EventText,
					"interruptible": out.TimerInstruction.Interruptible,
				},
			}
			if err := s.store.Outbox.Add(ctx, event); err != nil {
				return fmt.Errorf("enqueue timer_scheduled: %w", err)
			}
			result.ScheduledTimer = timer
		}

		if prompt := strings.TrimSpace(out.SceneImagePrompt); prompt != "" {
			roomKey := roomKeyFromState(playerState)
			event := &models.OutboxEvent{
				CampaignID:     req.CampaignID,
				SessionID:      req.SessionID,
				EventType:      models.EventSceneImageRequested,
				IdempotencyKey: fmt.Sprintf("scene_image:%d:%s", narratorTurn.ID, roomKey),
				Payload: map[string]any{
					"campaign_id":        req.CampaignID,
					"session_id":         req.SessionID,
					"actor_id":           req.ActorID,
					"turn_id":            narratorTurn.ID,
					"room_key":           roomKey,
					"scene_image_prompt": prompt,
				},
			}
			if err := s.store.Outbox.Add(ctx, event); err != nil {
				return fmt.Errorf("enqueue scene_image_requested: %w", err)
			}
			result.SceneImagePrompt = prompt
		}

		players, err := s.store.Players.ListByCampaign(ctx, req.CampaignID)
		if err != nil {
			return fmt.Errorf("list players for snapshot: %w", err)
		}
		playersPayload := make([]any, 0, len(players))
		for i := range players {
			p := &players[i]
			playersPayload = append(playersPayload, map[string]any{
				"player_id":  p.ID,
				"actor_id":   p.ActorID,
				"level":      p.Level,
				"xp":         p.XP,
				"attributes": p.Attributes,
				"state":      p.State,
			})
		}
		snapshot := &models.Snapshot{
			TurnID:             narratorTurn.ID,
			CampaignID:         req.CampaignID,
			CampaignState:      campaignState,
			CampaignCharacters: characters,
			CampaignSummary:    summary,
			CampaignNarration:  &narration,
			Players:            map[string]any{"players": playersPayload},
		}
		if err := s.store.Snapshots.Add(ctx, snapshot); err != nil {
			return fmt.Errorf("add snapshot: %w", err)
		}

		casOK, err := s.store.Campaigns.CASApplyUpdate(ctx, &repositories.CampaignCASUpdate{
			CampaignID:             req.CampaignID,
			ExpectedRowVersion:     turnCtx.StartRowVersion,
			Summary:                summary,
			State:                  campaignState,
			Characters:             characters,
			LastNarration:          &narration,
			MemoryVisibleMaxTurnID: &narratorTurn.ID,
			Now:                    now,
		})
		if err != nil {
			return fmt.Errorf("cas commit: %w", err)
		}
		if !casOK {
			return &domain.StaleClaimError{Reason: services.ConflictCASFailed}
		}

		if _, err := s.store.Inflight.Release(ctx, req.CampaignID, req.ActorID, claimToken); err != nil {
			return fmt.Errorf("release claim: %w", err)
		}

		result.Narration = narration
		result.NarratorTurnID = narratorTurn.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("turn resolved",
		"campaign_id", req.CampaignID,
		"actor_id", req.ActorID,
		"narrator_turn_id", result.NarratorTurnID,
		"player_turn_recorded", req.RecordPlayerTurn,
		"timer_scheduled", result.ScheduledTimer != nil,
	)
	return result, nil
}

// releaseClaimBestEffort drops the lease outside the failed transaction.
// Failure here is tolerable; the lease expires on its own.
func (s *turnEngineService) releaseClaimBestEffort(ctx context.Context, campaignID, actorID, claimToken string) {
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		_, err := s.store.Inflight.Release(ctx, campaignID, actorID, claimToken)
		return err
	})
	if err != nil {
		s.logger.Warn("failed to release claim",
			"campaign_id", campaignID,
			"actor_id", actorID,
			"error", err,
		)
	}
}

// giveItemPayload renders the raw instruction for the outbox payload.
func giveItemPayload(raw *ports.GiveItemInstruction) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	payload := map[string]any{"item": raw.Item}
	if raw.ToActorID != nil {
		payload["to_actor_id"] = *raw.ToActorID
	}
	if raw.ToDiscordMention != nil {
		payload["to_discord_mention"] = *raw.ToDiscordMention
	}
	return payload
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

var oocPattern = regexp.MustCompile(`(?i)^\s*\[OOC\b`)

// GameDeps wires the collaborators around the turn engine. Timers,
// attachments, media and effects may be nil; the corresponding side
// effect is then skipped.
type GameDeps struct {
	Store       *repositories.Store
	TxManager   repositories.TransactionManager
	Engine      services.TurnEngineService
	Timers      services.TimerService
	Attachments services.AttachmentService
	Resolver    ports.ActorResolverPort
	Media       ports.MediaGenerationPort
	Effects     ports.TimerEffectsPort
	Clock       func() time.Time
	Logger      *slog.Logger
}

// gameService implements the GameService interface
type gameService struct {
	store       *repositories.Store
	txManager   repositories.TransactionManager
	engine      services.TurnEngineService
	timers      services.TimerService
	attachments services.AttachmentService
	resolver    ports.ActorResolverPort
	media       ports.MediaGenerationPort
	effects     ports.TimerEffectsPort
	clock       func() time.Time
	logger      *slog.Logger
}

// NewGameService creates a new game service
func NewGameService(deps *GameDeps) services.GameService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &gameService{
		store:       deps.Store,
		txManager:   deps.TxManager,
		engine:      deps.Engine,
		timers:      deps.Timers,
		attachments: deps.Attachments,
		resolver:    deps.Resolver,
		media:       deps.Media,
		effects:     deps.Effects,
		clock:       clock,
		logger:      deps.Logger,
	}
}

// PlayAction runs the full surface-to-engine flow for one player action:
// timer interruption, presence bookkeeping, resolution, and the
// post-commit effects that only make sense once the turn is durable.
func (s *gameService) PlayAction(ctx context.Context, req *services.PlayActionRequest) (*services.PlayActionResult, error) {
	if err := s.validatePlayRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	actorID, err := s.resolveActor(ctx, req)
	if err != nil {
		return nil, err
	}
	sessionID, err := s.ensureSession(ctx, req)
	if err != nil {
		return nil, err
	}

	action := strings.TrimSpace(req.Action)
	if strings.TrimSpace(req.AttachmentText) != "" {
		summary, err := s.summarizeAttachment(ctx, req.AttachmentName, req.AttachmentText)
		if err != nil {
			return nil, err
		}
		action = foldAttachmentIntoAction(action, req.AttachmentName, summary)
	}

	result := &services.PlayActionResult{}
	result.AvertedEvent = s.interruptPendingTimer(ctx, req.CampaignID, actorID, sessionID)

	// Capture the pre-turn inventory and roster before the engine mutates
	// them; both drive post-commit effects.
	var preInventory []models.InventoryItem
	preSlugs := make(map[string]struct{})
	player, err := s.store.Players.GetByCampaignActor(ctx, req.CampaignID, actorID)
	if err == nil {
		preInventory = inventoryFromState(player.State)
		s.recordPlayerPresence(ctx, player)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load player: %w", err)
	}
	if campaign, err := s.store.Campaigns.Get(ctx, req.CampaignID); err == nil {
		for slug := range campaign.Characters {
			preSlugs[slug] = struct{}{}
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	resolveReq := services.NewResolveTurnRequest(req.CampaignID, actorID, action)
	resolveReq.SessionID = sessionID
	resolveReq.RecordPlayerTurn = !oocPattern.MatchString(action)

	resolve := s.engine.ResolveTurn(ctx, resolveReq)
	result.Resolve = resolve
	if resolve.Status != services.StatusOK {
		return result, nil
	}

	result.ItemGiven = s.applyGiveItemTransfer(ctx, req.CampaignID, actorID, action, resolve.Narration, resolve.GiveItem, preInventory)
	if resolve.ScheduledTimer != nil && s.timers != nil {
		s.timers.Arm(resolve.ScheduledTimer)
	}
	s.enqueueNewCharacterPortraits(ctx, req.CampaignID, actorID, sessionID, preSlugs)

	return result, nil
}

// validatePlayRequest validates a play action request
func (s *gameService) validatePlayRequest(req *services.PlayActionRequest) error {
	if req.ActorID == "" && (req.Provider == "" || req.ExternalUserID == "") {
		return fmt.Errorf("either actor_id or provider/external_user_id must be provided")
	}
	if strings.TrimSpace(req.Action) == "" && strings.TrimSpace(req.AttachmentText) == "" {
		return fmt.Errorf("action or attachment_text must be provided")
	}
	return validation.ValidateStruct(req,
		validation.Field(&req.CampaignID, validation.Required),
		validation.Field(&req.Action, validation.Length(0, config.MaxActionLength)),
	)
}

func (s *gameService) resolveActor(ctx context.Context, req *services.PlayActionRequest) (string, error) {
	if req.ActorID != "" {
		return req.ActorID, nil
	}
	actor, err := s.store.Actors.EnsureByExternalRef(ctx, req.Provider, req.ExternalUserID, req.DisplayName)
	if err != nil {
		return "", fmt.Errorf("ensure actor: %w", err)
	}
	return actor.ID, nil
}

func (s *gameService) ensureSession(ctx context.Context, req *services.PlayActionRequest) (*string, error) {
	if req.Surface == nil {
		return nil, nil
	}
	binding := req.Surface
	ref := binding.ChannelID
	if binding.ThreadID != nil && *binding.ThreadID != "" {
		ref = *binding.ThreadID
	}
	session := &models.Session{
		CampaignID:       req.CampaignID,
		Surface:          binding.Surface,
		SurfaceKey:       fmt.Sprintf("%s:%s", binding.Surface, ref),
		SurfaceGuildID:   binding.GuildID,
		SurfaceChannelID: &binding.ChannelID,
		SurfaceThreadID:  binding.ThreadID,
		Enabled:          true,
	}
	stored, err := s.store.Sessions.Ensure(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return &stored.ID, nil
}

func (s *gameService) summarizeAttachment(ctx context.Context, filename, content string) (string, error) {
	if s.attachments == nil {
		return content, nil
	}
	return s.attachments.SummarizeAttachment(ctx, filename, content)
}

func foldAttachmentIntoAction(action, filename, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return action
	}
	name := strings.TrimSpace(filename)
	if name == "" {
		name = "upload"
	}
	block := fmt.Sprintf("[Attached file: %s]\n%s", name, summary)
	if action == "" {
		return block
	}
	return action + "\n\n" + block
}

// interruptPendingTimer cancels an interruptible pending timer because the
// player acted first. The averted event is recorded as a narrator turn so
// the model knows the event never happened, and the countdown message is
// updated best-effort.
func (s *gameService) interruptPendingTimer(ctx context.Context, campaignID, actorID string, sessionID *string) *string {
	timer, err := s.store.Timers.GetActive(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("pending timer lookup failed",
				"campaign_id", campaignID,
				"error", err,
			)
		}
		return nil
	}
	if !timer.Interruptible {
		return nil
	}

	now := s.clock()
	cancelled, err := s.store.Timers.CancelActive(ctx, campaignID, now)
	if err != nil {
		s.logger.Warn("timer cancel failed",
			"campaign_id", campaignID,
			"timer_id", timer.ID,
			"error", err,
		)
		return nil
	}
	if cancelled == 0 {
		// Lost the race against the scheduler; the fire path owns it now.
		return nil
	}

	if player, err := s.store.Players.GetByCampaignActor(ctx, campaignID, actorID); err == nil {
		player.State = bumpStat(player.State, models.StatTimersAverted, 1)
		player.UpdatedAt = now
		if err := s.store.Players.Update(ctx, player); err != nil {
			s.logger.Warn("timers_averted update failed",
				"campaign_id", campaignID,
				"actor_id", actorID,
				"error", err,
			)
		}
	}

	event := strings.TrimSpace(timer.EventText)
	if event == "" {
		event = "an impending event"
	}
	note := fmt.Sprintf("[TIMER INTERRUPTED] The player acted before the timed event fired. Averted event: \"%s\"", event)
	if timer.InterruptAction != nil && strings.TrimSpace(*timer.InterruptAction) != "" {
		note += fmt.Sprintf(" Interruption context: \"%s\"", strings.TrimSpace(*timer.InterruptAction))
	}
	interruptTurn := &models.Turn{
		CampaignID: campaignID,
		SessionID:  sessionID,
		ActorID:    &actorID,
		Kind:       models.TurnKindNarrator,
		Content:    note,
	}
	if err := s.store.Turns.Append(ctx, interruptTurn); err != nil {
		s.logger.Warn("interrupt note append failed",
			"campaign_id", campaignID,
			"error", err,
		)
	}

	if s.effects != nil && timer.ExternalMessageID != nil && timer.ExternalChannelID != nil {
		line := fmt.Sprintf("✅ *Timer cancelled - you acted in time. (Averted: %s)*", event)
		if err := s.effects.EditTimerLine(ctx, *timer.ExternalChannelID, *timer.ExternalMessageID, line); err != nil {
			s.logger.Warn("timer line edit failed",
				"timer_id", timer.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("pending timer interrupted",
		"campaign_id", campaignID,
		"actor_id", actorID,
		"timer_id", timer.ID,
		"event", event,
	)
	return &event
}

// recordPlayerPresence bumps the message counter and accumulates attention
// time when the gap since the previous message is short enough to count as
// continuous play.
func (s *gameService) recordPlayerPresence(ctx context.Context, player *models.Player) {
	now := s.clock()
	state := player.State
	if state == nil {
		state = map[string]any{}
	}
	stats := mapField(state, models.PlayerStateKeyStats)
	if stats == nil {
		stats = map[string]any{}
	}

	if last, err := time.Parse(time.RFC3339, stringValue(stats[models.StatLastMessageAt])); err == nil {
		gap := now.Sub(last).Seconds()
		if gap > 0 && gap < config.AttentionWindowSeconds {
			current, _ := toInt(stats[models.StatAttentionSeconds])
			stats[models.StatAttentionSeconds] = current + int(gap)
		}
	}
	count, _ := toInt(stats[models.StatMessagesSent])
	stats[models.StatMessagesSent] = count + 1
	stats[models.StatLastMessageAt] = now.Format(time.RFC3339)
	state[models.PlayerStateKeyStats] = stats

	player.State = state
	player.UpdatedAt = now
	player.LastActiveAt = &now
	if err := s.store.Players.Update(ctx, player); err != nil {
		s.logger.Warn("presence update failed",
			"campaign_id", player.CampaignID,
			"actor_id", player.ActorID,
			"error", err,
		)
	}
}

// applyGiveItemTransfer moves an item between players after the turn
// committed. The explicit instruction wins; without one, a transfer is
// inferred from items that left the giver's inventory during the turn
// combined with give language and a mention in the text. Best-effort; the
// turn stands either way.
func (s *gameService) applyGiveItemTransfer(ctx context.Context, campaignID, actorID, actionText, narrationText string, give *ports.GiveItemInstruction, preInventory []models.InventoryItem) bool {
	if len(preInventory) == 0 {
		return false
	}

	transferred := false
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		source, err := s.store.Players.GetByCampaignActor(ctx, campaignID, actorID)
		if err != nil {
			return err
		}
		currentInventory := inventoryFromState(source.State)

		var item, target string
		if give != nil {
			item = strings.TrimSpace(give.Item)
			if give.ToActorID != nil {
				target = strings.TrimSpace(*give.ToActorID)
			}
		} else {
			removed := removedItems(preInventory, currentInventory)
			inferred := inferGiveItem(ctx, s.resolver, actorID, actionText, narrationText, removed)
			if inferred == nil {
				return nil
			}
			item = inferred.Item
			if inferred.ToActorID != nil {
				target = *inferred.ToActorID
			}
		}
		if item == "" || target == "" || target == actorID {
			return nil
		}

		itemLower := strings.ToLower(item)
		giverHasNow := false
		for _, entry := range currentInventory {
			if strings.ToLower(entry.Name) == itemLower {
				giverHasNow = true
				break
			}
		}
		giverHadBefore := false
		for _, entry := range preInventory {
			if strings.ToLower(entry.Name) == itemLower {
				giverHadBefore = true
				break
			}
		}
		if !giverHasNow && !giverHadBefore {
			return nil
		}

		receiver, err := s.store.Players.GetByCampaignActor(ctx, campaignID, target)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}

		now := s.clock()
		if giverHasNow {
			source.State[models.PlayerStateKeyInventory] = inventoryToState(
				applyInventoryDelta(currentInventory, nil, []string{item}, ""))
			source.UpdatedAt = now
			if err := s.store.Players.Update(ctx, source); err != nil {
				return err
			}
		}

		receiverInventory := inventoryFromState(receiver.State)
		held := false
		for _, entry := range receiverInventory {
			if strings.ToLower(entry.Name) == itemLower {
				held = true
				break
			}
		}
		if !held {
			origin := fmt.Sprintf("Received from %s", actorID)
			if receiver.State == nil {
				receiver.State = map[string]any{}
			}
			receiver.State[models.PlayerStateKeyInventory] = inventoryToState(
				applyInventoryDelta(receiverInventory, []string{item}, nil, origin))
			receiver.UpdatedAt = now
			if err := s.store.Players.Update(ctx, receiver); err != nil {
				return err
			}
		}

		transferred = true
		s.logger.Info("item transferred",
			"campaign_id", campaignID,
			"from_actor_id", actorID,
			"to_actor_id", target,
			"item", item,
		)
		return nil
	})
	if err != nil {
		s.logger.Warn("give-item transfer failed",
			"campaign_id", campaignID,
			"actor_id", actorID,
			"error", err,
		)
		return false
	}
	return transferred
}

// enqueueNewCharacterPortraits requests portraits for characters that
// appeared this turn with an appearance and no image yet.
func (s *gameService) enqueueNewCharacterPortraits(ctx context.Context, campaignID, actorID string, sessionID *string, preSlugs map[string]struct{}) {
	if s.media == nil || !s.media.GPUWorkerAvailable(ctx) {
		return
	}
	campaign, err := s.store.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return
	}
	for slug, value := range campaign.Characters {
		if _, seen := preSlugs[slug]; seen {
			continue
		}
		char, ok := value.(map[string]any)
		if !ok {
			continue
		}
		appearance := strings.TrimSpace(stringValue(char["appearance"]))
		imageURL := strings.TrimSpace(stringValue(char["image_url"]))
		if appearance == "" || imageURL != "" {
			continue
		}
		name := strings.TrimSpace(stringValue(char["name"]))
		if name == "" {
			name = slug
		}
		req := &ports.AvatarGenerationRequest{
			CampaignID: campaignID,
			ActorID:    actorID,
			Prompt:     composePortraitPrompt(name, appearance),
			SessionID:  sessionID,
			Metadata:   map[string]any{"character_slug": slug},
		}
		if err := s.media.EnqueueAvatarGeneration(ctx, req); err != nil {
			s.logger.Warn("portrait enqueue failed",
				"campaign_id", campaignID,
				"character_slug", slug,
				"error", err,
			)
			continue
		}
		s.logger.Info("character portrait enqueued",
			"campaign_id", campaignID,
			"character_slug", slug,
		)
	}
}

func composePortraitPrompt(name, appearance string) string {
	composed := fmt.Sprintf("Character portrait of %s. %s single character centered composition detailed fantasy illustration",
		name, strings.TrimSpace(appearance))
	composed = strings.Join(strings.Fields(composed), " ")
	return truncateRunes(composed, config.MaxScenePromptChars)
}

// RunTimedEvent resolves a fired timer as a system action. The timer row
// is already expired when this runs; guards that reject the fire simply
// drop the event.
func (s *gameService) RunTimedEvent(ctx context.Context, timer *models.Timer) {
	campaign, err := s.store.Campaigns.Get(ctx, timer.CampaignID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("timed event campaign load failed",
				"campaign_id", timer.CampaignID,
				"error", err,
			)
		}
		return
	}
	preSlugs := make(map[string]struct{}, len(campaign.Characters))
	for slug := range campaign.Characters {
		preSlugs[slug] = struct{}{}
	}
	if !campaign.TimedEventsEnabled() {
		return
	}

	// A player turn landing this instant owns the moment; the event is
	// dropped rather than narrated over them.
	if latest, err := s.store.Turns.Latest(ctx, timer.CampaignID); err == nil && latest.Kind == models.TurnKindPlayer {
		if s.clock().Sub(latest.CreatedAt) < config.PlayerTurnGuardSeconds*time.Second {
			s.logger.Info("timed event skipped, player just acted",
				"campaign_id", timer.CampaignID,
				"timer_id", timer.ID,
			)
			return
		}
	}

	players, err := s.store.Players.ListByCampaign(ctx, timer.CampaignID)
	if err != nil || len(players) == 0 {
		return
	}
	active := &players[0]
	for i := 1; i < len(players); i++ {
		p := &players[i]
		if active.LastActiveAt == nil || (p.LastActiveAt != nil && p.LastActiveAt.After(*active.LastActiveAt)) {
			active = p
		}
	}

	// The missed-timer stat charges whoever was holding the world's
	// attention, before resolution so a failed resolve still counts.
	active.State = bumpStat(active.State, models.StatTimersMissed, 1)
	active.UpdatedAt = s.clock()
	if err := s.store.Players.Update(ctx, active); err != nil {
		s.logger.Warn("timers_missed update failed",
			"campaign_id", timer.CampaignID,
			"actor_id", active.ActorID,
			"error", err,
		)
	}

	resolveReq := services.NewResolveTurnRequest(
		timer.CampaignID,
		active.ActorID,
		fmt.Sprintf("[SYSTEM EVENT - TIMED]: %s", timer.EventText),
	)
	resolveReq.SessionID = timer.SessionID
	resolveReq.RecordPlayerTurn = false
	resolveReq.AllowTimerInstruction = false

	resolve := s.engine.ResolveTurn(ctx, resolveReq)
	if resolve.Status != services.StatusOK {
		s.logger.Warn("timed event resolution failed",
			"campaign_id", timer.CampaignID,
			"timer_id", timer.ID,
			"status", resolve.Status,
			"reason", resolve.Reason,
		)
		return
	}

	s.enqueueNewCharacterPortraits(ctx, timer.CampaignID, active.ActorID, timer.SessionID, preSlugs)

	if s.effects != nil && resolve.Narration != "" {
		channel := ""
		if timer.ExternalThreadID != nil && *timer.ExternalThreadID != "" {
			channel = *timer.ExternalThreadID
		} else if timer.ExternalChannelID != nil {
			channel = *timer.ExternalChannelID
		}
		if err := s.effects.EmitTimedEvent(ctx, timer.CampaignID, channel, active.ActorID, resolve.Narration); err != nil {
			s.logger.Warn("timed event emit failed",
				"campaign_id", timer.CampaignID,
				"timer_id", timer.ID,
				"error", err,
			)
		}
	}

	s.logger.Info("timed event resolved",
		"campaign_id", timer.CampaignID,
		"timer_id", timer.ID,
		"actor_id", active.ActorID,
	)
}

// RecentTurns returns the campaign's newest turns in ascending id order.
func (s *gameService) RecentTurns(ctx context.Context, campaignID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = config.MaxRecentTurns
	}
	if _, err := s.store.Campaigns.Get(ctx, campaignID); err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return s.store.Turns.Recent(ctx, campaignID, limit)
}

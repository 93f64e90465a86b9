package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// xpNeededForLevel is the XP cost of leaving the given level.
func xpNeededForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return config.XPBase + (level-1)*config.XPPerLevel
}

// totalPointsForLevel is the attribute point budget at the given level.
func totalPointsForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return config.BaseAttributePoints + (level-1)*config.PointsPerLevel
}

// playerAttributes reads the attributes document as integer scores,
// dropping non-numeric values.
func playerAttributes(attributes map[string]any) map[string]int {
	out := make(map[string]int, len(attributes))
	for key, value := range attributes {
		if n, ok := toInt(value); ok {
			out[key] = n
		}
	}
	return out
}

func pointsSpent(attributes map[string]int) int {
	total := 0
	for _, value := range attributes {
		total += value
	}
	return total
}

// bumpStat increments a counter under state.stats and returns the state
// map (allocated when nil).
func bumpStat(state map[string]any, key string, delta int) map[string]any {
	if state == nil {
		state = make(map[string]any, 1)
	}
	stats := mapField(state, models.PlayerStateKeyStats)
	if stats == nil {
		stats = make(map[string]any, 1)
	}
	current, _ := toInt(stats[key])
	stats[key] = current + delta
	state[models.PlayerStateKeyStats] = stats
	return state
}

// progressionService implements the ProgressionService interface
type progressionService struct {
	store  *repositories.Store
	logger *slog.Logger
}

// NewProgressionService creates a new progression service
func NewProgressionService(store *repositories.Store, logger *slog.Logger) services.ProgressionService {
	return &progressionService{
		store:  store,
		logger: logger,
	}
}

// LevelUp spends the XP threshold for the player's current level and
// increments the level. Insufficient XP is a normal outcome, not an
// error.
func (s *progressionService) LevelUp(ctx context.Context, campaignID, actorID string) (*services.LevelUpResult, error) {
	player, err := s.store.Players.GetByCampaignActor(ctx, campaignID, actorID)
	if err != nil {
		return nil, fmt.Errorf("load player: %w", err)
	}

	needed := xpNeededForLevel(player.Level)
	if player.XP < needed {
		return &services.LevelUpResult{
			Leveled:  false,
			Level:    player.Level,
			XP:       player.XP,
			XPNeeded: needed,
			Message:  fmt.Sprintf("Need %d XP to level up.", needed),
		}, nil
	}

	player.XP -= needed
	player.Level++
	if err := s.store.Players.Update(ctx, player); err != nil {
		return nil, fmt.Errorf("update player: %w", err)
	}

	s.logger.Info("player leveled up",
		"campaign_id", campaignID,
		"actor_id", actorID,
		"level", player.Level,
		"xp", player.XP,
	)

	return &services.LevelUpResult{
		Leveled:  true,
		Level:    player.Level,
		XP:       player.XP,
		XPNeeded: xpNeededForLevel(player.Level),
		Message:  fmt.Sprintf("Leveled up to %d.", player.Level),
	}, nil
}

// AllocateAttributePoint raises one attribute by a point, bounded by the
// per-attribute cap and the level's point budget.
func (s *progressionService) AllocateAttributePoint(ctx context.Context, campaignID, actorID, attribute string) (*services.AllocateAttributeResult, error) {
	attribute = strings.ToLower(strings.TrimSpace(attribute))
	if attribute == "" {
		return nil, fmt.Errorf("%w: attribute name is required", domain.ErrValidation)
	}

	player, err := s.store.Players.GetByCampaignActor(ctx, campaignID, actorID)
	if err != nil {
		return nil, fmt.Errorf("load player: %w", err)
	}

	attrs := playerAttributes(player.Attributes)
	value := attrs[attribute] + 1
	if value > config.MaxAttributeValue {
		return nil, fmt.Errorf("%w: %s is at the maximum of %d", domain.ErrValidation, attribute, config.MaxAttributeValue)
	}
	total := totalPointsForLevel(player.Level)
	if pointsSpent(attrs)+1 > total {
		return nil, fmt.Errorf("%w: no unspent points at level %d (%d total)", domain.ErrValidation, player.Level, total)
	}

	attrs[attribute] = value
	updated := make(map[string]any, len(attrs))
	for key, v := range attrs {
		updated[key] = v
	}
	player.Attributes = updated
	if err := s.store.Players.Update(ctx, player); err != nil {
		return nil, fmt.Errorf("update player: %w", err)
	}

	return &services.AllocateAttributeResult{
		Attribute:       attribute,
		Value:           value,
		PointsRemaining: total - pointsSpent(attrs),
	}, nil
}

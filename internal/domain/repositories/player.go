package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// PlayerRepository persists the (campaign, actor) join rows.
type PlayerRepository interface {
	// Ensure returns the player for the pair, creating a fresh level-1
	// row when none exists. Concurrent ensures for the same pair are
	// safe (insert-on-conflict-do-nothing then read).
	Ensure(ctx context.Context, campaignID, actorID string) (*models.Player, error)

	GetByCampaignActor(ctx context.Context, campaignID, actorID string) (*models.Player, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]models.Player, error)

	// Update writes level, xp, attributes, state and the activity
	// timestamps of an existing row.
	Update(ctx context.Context, player *models.Player) error
}

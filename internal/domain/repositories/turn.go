package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// TurnRepository persists the append-only narrative log.
type TurnRepository interface {
	// Append inserts the turn and fills its generated ID and CreatedAt.
	Append(ctx context.Context, turn *models.Turn) error

	// Recent returns the newest turns of a campaign in ascending id
	// order (the LLM context window).
	Recent(ctx context.Context, campaignID string, limit int) ([]models.Turn, error)

	// Latest returns the newest turn of a campaign, or ErrNotFound.
	Latest(ctx context.Context, campaignID string) (*models.Turn, error)

	// DeleteAfter removes turns with id strictly greater than
	// afterTurnID and returns how many went. A non-empty sessionIDs
	// restricts the delete to those sessions (channel-scoped rewind).
	DeleteAfter(ctx context.Context, campaignID string, afterTurnID int64, sessionIDs []string) (int64, error)

	// SetExternalRefs binds the surface message ids once presentation
	// has delivered the turn.
	SetExternalRefs(ctx context.Context, turnID int64, messageID, userMessageID *string) error
}

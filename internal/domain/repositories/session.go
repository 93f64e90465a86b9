package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// SessionRepository persists surface bindings.
type SessionRepository interface {
	// Ensure upserts by surface key and returns the stored row.
	Ensure(ctx context.Context, session *models.Session) (*models.Session, error)

	Get(ctx context.Context, id string) (*models.Session, error)
	GetBySurfaceKey(ctx context.Context, surfaceKey string) (*models.Session, error)

	// ListIDsByChannel returns the session ids of a campaign bound to
	// the given channel (matching channel or thread id), for
	// channel-scoped rewind.
	ListIDsByChannel(ctx context.Context, campaignID, channelID string) ([]string, error)
}

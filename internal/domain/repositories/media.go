package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// MediaRefRepository records delivered media artifacts.
type MediaRefRepository interface {
	Record(ctx context.Context, ref *models.MediaRef) error

	// LatestSceneForRoom returns the newest scene ref for a room key, or
	// ErrNotFound. Used to hand the generator a reference image.
	LatestSceneForRoom(ctx context.Context, campaignID, roomKey string) (*models.MediaRef, error)
}

package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// SnapshotRepository persists the per-narrator-turn world copies.
type SnapshotRepository interface {
	// Add inserts the snapshot; a duplicate turn_id is a silent no-op
	// (one snapshot per narrator turn, ever).
	Add(ctx context.Context, snapshot *models.Snapshot) error

	// GetByTurn looks the snapshot up within one campaign so a turn id
	// belonging to another campaign misses.
	GetByTurn(ctx context.Context, campaignID string, turnID int64) (*models.Snapshot, error)

	// DeleteAfterTurn removes snapshots for turns strictly greater than
	// afterTurnID and returns how many went.
	DeleteAfterTurn(ctx context.Context, campaignID string, afterTurnID int64) (int64, error)
}

package repositories

import (
	"context"
	"time"

	"fabula/internal/domain/models"
)

// CampaignCASUpdate carries the full field set written by a successful
// turn commit or a rewind restore. The write succeeds only if the row
// still holds ExpectedRowVersion; on success the row version increments.
type CampaignCASUpdate struct {
	CampaignID             string
	ExpectedRowVersion     int
	Summary                string
	State                  map[string]any
	Characters             map[string]any
	LastNarration          *string
	MemoryVisibleMaxTurnID *int64
	Now                    time.Time
}

// CampaignRepository persists campaign aggregates.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	Get(ctx context.Context, id string) (*models.Campaign, error)
	GetByName(ctx context.Context, namespace, nameNormalized string) (*models.Campaign, error)
	ListByNamespace(ctx context.Context, namespace string) ([]models.Campaign, error)

	// CASApplyUpdate performs the optimistic-concurrency commit. Returns
	// false (no error) when the expected row version no longer matches.
	CASApplyUpdate(ctx context.Context, upd *CampaignCASUpdate) (bool, error)

	// UpdateState overwrites the state document without touching the row
	// version. Reserved for operator knobs (speed multiplier, flags) that
	// must not conflict in-flight turns.
	UpdateState(ctx context.Context, id string, state map[string]any, now time.Time) error
}

package repositories

import (
	"context"
	"time"

	"fabula/internal/domain/models"
)

// TimerRepository persists scheduled world-event timers. All transitions
// are conditional writes reporting whether they happened; callers rely on
// that to make the state machine idempotent under races.
type TimerRepository interface {
	// Schedule inserts a new row in scheduled_unbound and fills its ID.
	// The caller must cancel active timers first in the same transaction
	// or the partial unique index rejects the insert.
	Schedule(ctx context.Context, timer *models.Timer) error

	// GetActive returns the campaign's single active timer or ErrNotFound.
	GetActive(ctx context.Context, campaignID string) (*models.Timer, error)

	// ListActive returns every active timer in the store (startup restore).
	ListActive(ctx context.Context) ([]models.Timer, error)

	Get(ctx context.Context, id string) (*models.Timer, error)

	// AttachMessage binds surface message coordinates; only rows still in
	// an active status accept the bind (scheduled_unbound becomes
	// scheduled_bound, a bound row just updates its refs).
	AttachMessage(ctx context.Context, id, messageID, channelID string, threadID *string, now time.Time) (bool, error)

	// CancelActive transitions every active row of the campaign to
	// cancelled and returns how many moved.
	CancelActive(ctx context.Context, campaignID string, now time.Time) (int64, error)

	// MarkExpired transitions active → expired; false if the row already
	// left the active states.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkConsumed transitions expired → consumed; false from any other
	// status.
	MarkConsumed(ctx context.Context, id string, now time.Time) (bool, error)
}

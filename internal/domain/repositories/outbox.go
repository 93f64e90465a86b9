package repositories

import (
	"context"
	"time"

	"fabula/internal/domain/models"
)

// OutboxRepository persists idempotency-keyed side-effect events.
type OutboxRepository interface {
	// Add inserts the event; a duplicate (campaign_id, session_scope,
	// event_type, idempotency_key) is silently dropped.
	Add(ctx context.Context, event *models.OutboxEvent) error

	// ListDue returns pending events of the given types whose
	// next_attempt_at has passed (or is unset), oldest first.
	ListDue(ctx context.Context, eventTypes []string, now time.Time, limit int) ([]models.OutboxEvent, error)

	// MarkDispatched finalizes a successfully handled event.
	MarkDispatched(ctx context.Context, id string, now time.Time) error

	// RecordFailure bumps the attempt counter; a nil nextAttemptAt marks
	// the event failed terminally, otherwise it stays pending until then.
	RecordFailure(ctx context.Context, id string, nextAttemptAt *time.Time, now time.Time) error
}

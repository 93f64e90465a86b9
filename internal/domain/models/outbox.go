package models

import (
	"time"
)

// Outbox event types emitted by the core.
const (
	EventTimerScheduled      = "timer_scheduled"
	EventSceneImageRequested = "scene_image_requested"
	EventGiveItemUnresolved  = "give_item_unresolved"
	EventMemoryPruneRequest  = "memory_prune_requested"
)

// Outbox delivery statuses.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusDispatched = "dispatched"
	OutboxStatusFailed     = "failed"
)

// OutboxSessionScopeNone stands in for a nil session id inside the
// idempotency key (the unique constraint needs a non-null column).
const OutboxSessionScopeNone = "__none__"

// OutboxEvent is a durable side effect recorded in the same transaction
// as the state change that caused it. (campaign_id, session_scope,
// event_type, idempotency_key) is unique and duplicate inserts are
// silently dropped, so emitters never need to check for prior delivery.
type OutboxEvent struct {
	ID             string         `json:"id" db:"id"`
	CampaignID     string         `json:"campaign_id" db:"campaign_id"`
	SessionID      *string        `json:"session_id,omitempty" db:"session_id"`
	SessionScope   string         `json:"session_scope" db:"session_scope"`
	EventType      string         `json:"event_type" db:"event_type"`
	IdempotencyKey string         `json:"idempotency_key" db:"idempotency_key"`
	Payload        map[string]any `json:"payload" db:"payload"`
	Status         string         `json:"status" db:"status"`
	Attempts       int            `json:"attempts" db:"attempts"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

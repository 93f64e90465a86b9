package models

import (
	"time"
)

// Timer statuses. At most one row per campaign may be in an active
// status (scheduled_unbound or scheduled_bound), enforced by a partial
// unique index. Transitions are conditional writes that report whether
// they happened, so every transition is idempotent.
const (
	TimerStatusScheduledUnbound = "scheduled_unbound"
	TimerStatusScheduledBound   = "scheduled_bound"
	TimerStatusCancelled        = "cancelled"
	TimerStatusExpired          = "expired"
	TimerStatusConsumed         = "consumed"
)

// Timer is a persisted countdown toward a narrated world event. It is
// created by the turn engine, bound to a surface message by presentation,
// and transitioned by the scheduler; clients never mutate rows directly.
type Timer struct {
	ID              string     `json:"id" db:"id"`
	CampaignID      string     `json:"campaign_id" db:"campaign_id"`
	SessionID       *string    `json:"session_id,omitempty" db:"session_id"`
	Status          string     `json:"status" db:"status"`
	EventText       string     `json:"event_text" db:"event_text"`
	Interruptible   bool       `json:"interruptible" db:"interruptible"`
	InterruptAction *string    `json:"interrupt_action,omitempty" db:"interrupt_action"`
	DueAt           time.Time  `json:"due_at" db:"due_at"`
	FiredAt         *time.Time `json:"fired_at,omitempty" db:"fired_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	ExternalMessageID *string `json:"external_message_id,omitempty" db:"external_message_id"`
	ExternalChannelID *string `json:"external_channel_id,omitempty" db:"external_channel_id"`
	ExternalThreadID  *string `json:"external_thread_id,omitempty" db:"external_thread_id"`

	Meta      map[string]any `json:"meta" db:"meta"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Active reports whether the timer still counts down.
func (t *Timer) Active() bool {
	return t.Status == TimerStatusScheduledUnbound || t.Status == TimerStatusScheduledBound
}

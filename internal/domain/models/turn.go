package models

import (
	"time"
)

// Turn kinds
const (
	TurnKindPlayer   = "player"
	TurnKindNarrator = "narrator"
	TurnKindSystem   = "system"
)

// Turn is one append-only entry of a campaign's narrative log. IDs come
// from a global BIGSERIAL, so they are monotonic across the store and
// strictly ordered within a campaign. Turns are deleted only by rewind.
type Turn struct {
	ID         int64          `json:"id" db:"id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	SessionID  *string        `json:"session_id,omitempty" db:"session_id"`
	ActorID    *string        `json:"actor_id,omitempty" db:"actor_id"`
	Kind       string         `json:"kind" db:"kind"`
	Content    string         `json:"content" db:"content"`
	Meta       map[string]any `json:"meta" db:"meta"`

	// External message ids let a chat surface locate the message that
	// rendered this turn (narrator message, and the user message that
	// triggered it).
	ExternalMessageID     *string `json:"external_message_id,omitempty" db:"external_message_id"`
	ExternalUserMessageID *string `json:"external_user_message_id,omitempty" db:"external_user_message_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

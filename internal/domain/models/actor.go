package models

import (
	"time"
)

// Actor is the identity of a human or system participant. Actors exist
// independently of campaigns; a Player row joins an actor to a campaign.
type Actor struct {
	ID          string         `json:"id" db:"id"`
	DisplayName *string        `json:"display_name,omitempty" db:"display_name"`
	Kind        string         `json:"kind" db:"kind"`
	Metadata    map[string]any `json:"metadata" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// Actor kinds
const (
	ActorKindHuman  = "human"
	ActorKindSystem = "system"
)

// ActorExternalRef maps an external identity (e.g. a Discord user id) to
// an actor. (provider, external_id) is unique.
type ActorExternalRef struct {
	ID         string         `json:"id" db:"id"`
	ActorID    string         `json:"actor_id" db:"actor_id"`
	Provider   string         `json:"provider" db:"provider"`
	ExternalID string         `json:"external_id" db:"external_id"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// External ref providers
const (
	ProviderDiscord = "discord"
)

package models

import (
	"time"
)

// Player joins an actor to a campaign; (campaign_id, actor_id) is unique.
// State carries the inventory list plus whatever the narrator accumulates
// (location, room fields, stats). Players are created lazily on first
// reference.
type Player struct {
	ID           string         `json:"id" db:"id"`
	CampaignID   string         `json:"campaign_id" db:"campaign_id"`
	ActorID      string         `json:"actor_id" db:"actor_id"`
	Level        int            `json:"level" db:"level"`
	XP           int            `json:"xp" db:"xp"`
	Attributes   map[string]any `json:"attributes" db:"attributes"`
	State        map[string]any `json:"state" db:"state"`
	LastActiveAt *time.Time     `json:"last_active_at,omitempty" db:"last_active_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// InventoryItem is one entry of a player's inventory. Names are unique
// case-insensitively within one inventory; Origin records where the item
// came from (first sentence of the awarding narration, or the giver).
type InventoryItem struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

// Player state keys
const (
	PlayerStateKeyInventory = "inventory"
	PlayerStateKeyStats     = "stats"
	PlayerStateKeyLocation  = "location"
)

// Per-player counters kept under state["stats"].
const (
	StatMessagesSent     = "messages_sent"
	StatTimersAverted    = "timers_averted"
	StatTimersMissed     = "timers_missed"
	StatAttentionSeconds = "attention_seconds"
	StatLastMessageAt    = "last_message_at"
)

package models

import (
	"time"
)

// Snapshot is the value-copy of all world state at one narrator turn and
// the unit of rewind. Exactly one snapshot exists per narrator turn
// (turn_id is unique). Players carries value copies, never references.
type Snapshot struct {
	ID                 string         `json:"id" db:"id"`
	TurnID             int64          `json:"turn_id" db:"turn_id"`
	CampaignID         string         `json:"campaign_id" db:"campaign_id"`
	CampaignState      map[string]any `json:"campaign_state" db:"campaign_state"`
	CampaignCharacters map[string]any `json:"campaign_characters" db:"campaign_characters"`
	CampaignSummary    string         `json:"campaign_summary" db:"campaign_summary"`
	CampaignNarration  *string        `json:"campaign_last_narration,omitempty" db:"campaign_last_narration"`
	Players            map[string]any `json:"players" db:"players"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// SnapshotPlayer is one entry of the snapshot's players payload
// (Players["players"] is a list of these, serialized as JSON).
type SnapshotPlayer struct {
	PlayerID   string         `json:"player_id"`
	ActorID    string         `json:"actor_id"`
	Level      int            `json:"level"`
	XP         int            `json:"xp"`
	Attributes map[string]any `json:"attributes"`
	State      map[string]any `json:"state"`
}

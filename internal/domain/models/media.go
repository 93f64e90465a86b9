package models

import (
	"time"
)

// Media ref types
const (
	MediaRefScene  = "scene"
	MediaRefAvatar = "avatar"
)

// MediaRef records a generated image delivered by the external media
// worker. RoomKey groups scene images by the room they depict so a later
// request for the same room can reference the previous render.
type MediaRef struct {
	ID         string         `json:"id" db:"id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	PlayerID   *string        `json:"player_id,omitempty" db:"player_id"`
	RefType    string         `json:"ref_type" db:"ref_type"`
	RoomKey    *string        `json:"room_key,omitempty" db:"room_key"`
	URL        string         `json:"url" db:"url"`
	Prompt     *string        `json:"prompt,omitempty" db:"prompt"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

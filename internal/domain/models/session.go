package models

import (
	"time"
)

// Session binds a chat surface (a channel or thread on some platform) to
// a campaign. SurfaceKey is globally unique; guild/channel/thread ids are
// surface-specific coordinates used for channel-scoped rewind.
type Session struct {
	ID               string         `json:"id" db:"id"`
	CampaignID       string         `json:"campaign_id" db:"campaign_id"`
	Surface          string         `json:"surface" db:"surface"`
	SurfaceKey       string         `json:"surface_key" db:"surface_key"`
	SurfaceGuildID   *string        `json:"surface_guild_id,omitempty" db:"surface_guild_id"`
	SurfaceChannelID *string        `json:"surface_channel_id,omitempty" db:"surface_channel_id"`
	SurfaceThreadID  *string        `json:"surface_thread_id,omitempty" db:"surface_thread_id"`
	Enabled          bool           `json:"enabled" db:"enabled"`
	Metadata         map[string]any `json:"metadata" db:"metadata"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

package services

import (
	"context"

	"fabula/internal/domain/models"
)

// SurfaceBinding identifies the chat surface a turn arrived from. The game
// service upserts a session row for it and stamps turns with the session id.
type SurfaceBinding struct {
	Surface   string  `json:"surface"`
	GuildID   *string `json:"guild_id,omitempty"`
	ChannelID string  `json:"channel_id"`
	ThreadID  *string `json:"thread_id,omitempty"`
}

// PlayActionRequest represents a player action arriving from a surface.
// Either ActorID or the Provider/ExternalUserID pair identifies the actor;
// the latter is upserted through the external-ref table.
type PlayActionRequest struct {
	CampaignID     string          `json:"campaign_id"`
	ActorID        string          `json:"actor_id,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	ExternalUserID string          `json:"external_user_id,omitempty"`
	DisplayName    string          `json:"display_name,omitempty"`
	Action         string          `json:"action"`
	Surface        *SurfaceBinding `json:"surface,omitempty"`

	// AttachmentName and AttachmentText carry an uploaded text file that is
	// summarized and appended to the action before resolution.
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentText string `json:"attachment_text,omitempty"`
}

// PlayActionResult wraps the engine outcome with the surface-level effects
// applied around it
type PlayActionResult struct {
	Resolve *ResolveTurnResult `json:"resolve"`

	// AvertedEvent is set when the action interrupted a pending
	// interruptible timer; it carries the averted event text.
	AvertedEvent *string `json:"averted_event,omitempty"`

	// ItemGiven reports whether a give-item transfer was applied after the
	// turn committed.
	ItemGiven bool `json:"item_given,omitempty"`
}

// GameService defines the full player-turn flow around the engine
type GameService interface {
	// PlayAction interrupts a pending interruptible timer, records presence,
	// resolves the action, and applies post-commit effects (item transfer,
	// portraits for new characters, timer arming).
	PlayAction(ctx context.Context, req *PlayActionRequest) (*PlayActionResult, error)

	// RunTimedEvent resolves a fired timer as a system action, charging the
	// missed-timer stat to the most recently active player. Failures are
	// logged, not returned; the timer is already expired by then.
	RunTimedEvent(ctx context.Context, timer *models.Timer)

	// RecentTurns returns the newest turns of a campaign in ascending id
	// order. A non-positive limit falls back to the context window size.
	RecentTurns(ctx context.Context, campaignID string, limit int) ([]models.Turn, error)
}

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Namespace        string  `json:"namespace"`
	Name             string  `json:"name"`
	CreatedByActorID *string `json:"created_by_actor_id,omitempty"`

	// Preset optionally names an embedded preset supplying the initial
	// state, characters, and opening narration.
	Preset string `json:"preset,omitempty"`
}

// UpdateFlagsRequest carries the operator-facing campaign toggles. Nil
// fields are left unchanged.
type UpdateFlagsRequest struct {
	OnRails            *bool `json:"on_rails,omitempty"`
	TimedEventsEnabled *bool `json:"timed_events_enabled,omitempty"`
}

// CampaignService defines business logic operations for campaigns
type CampaignService interface {
	// CreateCampaign creates a campaign with a normalized name, unique per
	// namespace
	CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error)

	// GetCampaign retrieves a campaign by ID
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)

	// GetOrCreateByName resolves a campaign by normalized name, creating it
	// on first use
	GetOrCreateByName(ctx context.Context, namespace, name string, createdBy *string) (*models.Campaign, error)

	// ListCampaigns retrieves all campaigns in a namespace
	ListCampaigns(ctx context.Context, namespace string) ([]models.Campaign, error)

	// SetSpeedMultiplier clamps and stores the timer speed multiplier,
	// returning the value actually stored
	SetSpeedMultiplier(ctx context.Context, campaignID string, multiplier float64) (float64, error)

	// SetFlags updates on_rails / timed_events_enabled. Disabling timed
	// events cancels the pending timer.
	SetFlags(ctx context.Context, campaignID string, req *UpdateFlagsRequest) (*models.Campaign, error)
}

// LevelUpResult reports the outcome of a level-up attempt
type LevelUpResult struct {
	Leveled  bool   `json:"leveled"`
	Level    int    `json:"level"`
	XP       int    `json:"xp"`
	XPNeeded int    `json:"xp_needed"`
	Message  string `json:"message"`
}

// AllocateAttributeResult reports an attribute allocation
type AllocateAttributeResult struct {
	Attribute       string `json:"attribute"`
	Value           int    `json:"value"`
	PointsRemaining int    `json:"points_remaining"`
}

// ProgressionService defines level and attribute operations for players
type ProgressionService interface {
	// LevelUp spends banked XP on the next level when enough is banked
	LevelUp(ctx context.Context, campaignID, actorID string) (*LevelUpResult, error)

	// AllocateAttributePoint spends one unspent attribute point
	AllocateAttributePoint(ctx context.Context, campaignID, actorID, attribute string) (*AllocateAttributeResult, error)
}

package services

import (
	"context"

	"fabula/internal/domain/models"
)

// MediaCompletionRequest is the callback payload the external image worker
// posts when a generation job finishes. ActorID echoes the id the enqueue
// request carried; character portraits identify the roster entry through
// metadata.character_slug instead.
type MediaCompletionRequest struct {
	CampaignID string         `json:"campaign_id"`
	RefType    string         `json:"ref_type"`
	RoomKey    string         `json:"room_key,omitempty"`
	ActorID    *string        `json:"actor_id,omitempty"`
	URL        string         `json:"url"`
	Prompt     string         `json:"prompt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MediaService records completed generations and answers scene lookups
type MediaService interface {
	// RecordCompletion stores the media reference. Avatar completions for
	// a player (actor id, no character slug) also stamp the url into the
	// player's state.
	RecordCompletion(ctx context.Context, req *MediaCompletionRequest) (*models.MediaRef, error)

	// LatestScene returns the most recent scene image recorded for a room,
	// or domain.ErrNotFound
	LatestScene(ctx context.Context, campaignID, roomKey string) (*models.MediaRef, error)
}

package ports

import (
	"context"
)

// SceneGenerationRequest asks the media worker for a scene image.
type SceneGenerationRequest struct {
	CampaignID   string         `json:"campaign_id"`
	SessionID    *string        `json:"session_id,omitempty"`
	ActorID      string         `json:"actor_id"`
	TurnID       int64          `json:"turn_id"`
	RoomKey      string         `json:"room_key"`
	Prompt       string         `json:"prompt"`
	ReferenceURL *string        `json:"reference_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AvatarGenerationRequest asks the media worker for a portrait. Player
// avatars carry the actor id; character portraits carry the character
// slug in Metadata so the completion can be keyed back to the roster.
type AvatarGenerationRequest struct {
	CampaignID string         `json:"campaign_id"`
	ActorID    string         `json:"actor_id"`
	Prompt     string         `json:"prompt"`
	SessionID  *string        `json:"session_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MediaGenerationPort is the fire-and-forget image generation queue.
// Enqueue calls return once the job is accepted, never when it finishes;
// completion comes back through the media callback endpoint.
type MediaGenerationPort interface {
	GPUWorkerAvailable(ctx context.Context) bool
	EnqueueSceneGeneration(ctx context.Context, req *SceneGenerationRequest) error
	EnqueueAvatarGeneration(ctx context.Context, req *AvatarGenerationRequest) error
}

// Package ports declares the interfaces the engine consumes but does not
// implement: the LLM, actor resolution, memory search, media generation,
// and timer surface effects. Adapters live under internal/service.
package ports

import (
	"context"
	"time"
)

// RecentTurn is one entry of the rolling context window handed to the LLM.
type RecentTurn struct {
	ID        int64   `json:"id"`
	Kind      string  `json:"kind"`
	ActorID   *string `json:"actor_id"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

// TurnContext is the consistent world snapshot built in Phase A. The LLM
// call is a pure function of this value; nothing else may leak in.
type TurnContext struct {
	CampaignID         string
	ActorID            string
	SessionID          *string
	Action             string
	CampaignState      map[string]any
	CampaignSummary    string
	CampaignCharacters map[string]any
	PlayerState        map[string]any
	PlayerLevel        int
	PlayerXP           int
	RecentTurns        []RecentTurn

	// StartRowVersion is the campaign row version observed in Phase A;
	// Phase C refuses to commit if the campaign moved past it.
	StartRowVersion int
	Now             time.Time
}

// TimerInstruction schedules a future world event.
type TimerInstruction struct {
	DelaySeconds    int     `json:"delay_seconds"`
	EventText       string  `json:"event_text"`
	Interruptible   bool    `json:"interruptible"`
	InterruptAction *string `json:"interrupt_action,omitempty"`
}

// GiveItemInstruction transfers an inventory item to another player.
// Exactly one of ToActorID / ToDiscordMention is usually set; the mention
// is resolved through ActorResolverPort.
type GiveItemInstruction struct {
	Item             string  `json:"item"`
	ToActorID        *string `json:"to_actor_id,omitempty"`
	ToDiscordMention *string `json:"to_discord_mention,omitempty"`
}

// LLMTurnOutput is the structured response applied in Phase C. Narration
// is the only free text; everything else is guarded state mutation.
type LLMTurnOutput struct {
	Narration         string               `json:"narration"`
	StateUpdate       map[string]any       `json:"state_update"`
	SummaryUpdate     string               `json:"summary_update"`
	XPAwarded         int                  `json:"xp_awarded"`
	PlayerStateUpdate map[string]any       `json:"player_state_update"`
	SceneImagePrompt  string               `json:"scene_image_prompt"`
	TimerInstruction  *TimerInstruction    `json:"timer_instruction,omitempty"`
	CharacterUpdates  map[string]any       `json:"character_updates"`
	GiveItem          *GiveItemInstruction `json:"give_item,omitempty"`
}

// LLMPort produces the narrator's structured response for one turn. The
// call may take arbitrarily long; the engine holds no transaction while
// waiting, only the lease bounds it.
type LLMPort interface {
	CompleteTurn(ctx context.Context, turnCtx *TurnContext) (*LLMTurnOutput, error)
}

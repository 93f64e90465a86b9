package services

import (
	"context"

	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
)

// Outcome statuses shared by turn resolution and rewind. The engine never
// returns an error across this API; every failure folds into a status.
const (
	StatusOK       = "ok"
	StatusBusy     = "busy"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// Busy reasons reported when a turn cannot start.
const (
	BusyCampaignNotFound = "campaign_not_found"
	BusyTurnInflight     = "turn_inflight"
)

// Conflict reasons reported when a commit is refused.
const (
	ConflictClaimInvalid            = "claim_invalid"
	ConflictMissingCampaignOrPlayer = "missing_campaign_or_player"
	ConflictRowVersionChanged       = "row_version_changed"
	ConflictCASFailed               = "cas_failed"
)

// Rewind failure reasons.
const (
	RewindCampaignNotFound   = "campaign_not_found"
	RewindSnapshotNotFound   = "snapshot_not_found"
	RewindChannelNotFound    = "channel_not_found"
	RewindRowVersionConflict = "row_version_conflict"
)

// BeforePhaseCHook runs between the LLM call and the commit transaction,
// once per attempt. Tests use it to interleave concurrent writes.
type BeforePhaseCHook func(ctx context.Context, turnCtx *ports.TurnContext, attempt int) error

// ResolveTurnRequest represents one actor action to resolve against a campaign
type ResolveTurnRequest struct {
	CampaignID string  `json:"campaign_id"`
	ActorID    string  `json:"actor_id"`
	Action     string  `json:"action"`
	SessionID  *string `json:"session_id,omitempty"`

	// RecordPlayerTurn controls whether the acting player's own message is
	// appended to the log ahead of the narrator turn. Out-of-character
	// messages and system events leave it off.
	RecordPlayerTurn bool `json:"record_player_turn"`

	// AllowTimerInstruction gates narrator-scheduled timers. Timed event
	// resolution turns it off so a firing timer cannot chain another.
	AllowTimerInstruction bool `json:"allow_timer_instruction"`

	// BeforePhaseC, when set, runs after the LLM call and before the commit
	// transaction of each attempt.
	BeforePhaseC BeforePhaseCHook `json:"-"`
}

// NewResolveTurnRequest returns a request with the default flags: the player
// turn is recorded and the narrator may schedule a timer.
func NewResolveTurnRequest(campaignID, actorID, action string) *ResolveTurnRequest {
	return &ResolveTurnRequest{
		CampaignID:            campaignID,
		ActorID:               actorID,
		Action:                action,
		RecordPlayerTurn:      true,
		AllowTimerInstruction: true,
	}
}

// ResolveTurnResult is the outcome of one resolve call. Status is always
// set; Reason accompanies busy/conflict/error, the rest only ok.
type ResolveTurnResult struct {
	Status           string                     `json:"status"`
	Reason           string                     `json:"reason,omitempty"`
	Narration        string                     `json:"narration,omitempty"`
	PlayerTurnID     *int64                     `json:"player_turn_id,omitempty"`
	NarratorTurnID   int64                      `json:"narrator_turn_id,omitempty"`
	SceneImagePrompt string                     `json:"scene_image_prompt,omitempty"`
	ScheduledTimer   *models.Timer              `json:"scheduled_timer,omitempty"`
	GiveItem         *ports.GiveItemInstruction `json:"give_item,omitempty"`
}

// RewindRequest represents a request to restore a campaign to the snapshot
// taken at a past turn
type RewindRequest struct {
	CampaignID   string `json:"campaign_id"`
	TargetTurnID int64  `json:"target_turn_id"`

	// SessionIDs optionally scopes turn deletion to the given sessions.
	// Empty deletes every turn after the target.
	SessionIDs []string `json:"session_ids,omitempty"`

	// ChannelID, when set, scopes the deletion to sessions bound to that
	// surface channel. Resolved to SessionIDs inside the rewind.
	ChannelID *string `json:"channel_id,omitempty"`
}

// RewindResult is the outcome of a rewind call
type RewindResult struct {
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	TargetTurnID int64  `json:"target_turn_id"`
	DeletedTurns int64  `json:"deleted_turns"`
}

// TurnEngineService resolves actor actions through the two-phase
// read/commit protocol
type TurnEngineService interface {
	// ResolveTurn runs one action to completion: claim, context build, LLM
	// call, guarded commit, retry on stale claim. It does not return an
	// error; infrastructure failures surface as StatusError.
	ResolveTurn(ctx context.Context, req *ResolveTurnRequest) *ResolveTurnResult
}

// RewindService restores campaigns to earlier snapshots
type RewindService interface {
	// Rewind restores the campaign to the snapshot at the target turn and
	// deletes everything after it. Idempotent; reports failure through the
	// result status like ResolveTurn.
	Rewind(ctx context.Context, req *RewindRequest) *RewindResult
}

// MemoryService applies rewind visibility to long-term memory lookups
type MemoryService interface {
	// SearchVisible queries the memory port and drops hits beyond the
	// campaign's visibility watermark.
	SearchVisible(ctx context.Context, campaignID, query string, limit int) ([]ports.MemoryHit, error)

	// FilterVisible drops hits whose turn id lies beyond the watermark.
	// A nil watermark passes everything; an unknown campaign passes nothing.
	FilterVisible(ctx context.Context, campaignID string, hits []ports.MemoryHit) ([]ports.MemoryHit, error)
}

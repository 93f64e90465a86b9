package config

import "time"

const (
	// MaxCampaignNameLength caps campaign names before normalization.
	// Normalized names are truncated to 64 characters regardless.
	MaxCampaignNameLength = 255

	// MaxActionLength caps a single player action. Longer submissions
	// are rejected at the handler before any claim is taken.
	MaxActionLength = 4000

	// MaxRecentTurns is the size of the narrative context window handed
	// to the model in Phase A.
	MaxRecentTurns = 24

	// MaxSummaryChars caps the rolling campaign summary; trimming keeps
	// the newest end.
	MaxSummaryChars = 10000

	// MaxInventoryChangesPerTurn caps adds and removes separately in one
	// turn's inventory delta.
	MaxInventoryChangesPerTurn = 10

	// MaxCalendarEvents caps the campaign calendar (keep last 10).
	MaxCalendarEvents = 10

	// MaxCalendarDescriptionChars truncates calendar event descriptions.
	MaxCalendarDescriptionChars = 200

	// OriginHintMaxChars truncates the first-sentence origin recorded on
	// inventory items.
	OriginHintMaxChars = 120

	// RoomKeyMaxChars truncates the normalized room key used to group
	// scene images.
	RoomKeyMaxChars = 120
)

// Prompt budgets. The context window is shared between world state, the
// character roster, the summary, and recent turns; each slice is capped
// independently so one bloated document cannot starve the rest.
const (
	MaxStateChars         = 10000
	MaxTurnChars          = 1200
	MaxCharactersChars    = 8000
	MaxCharactersInPrompt = 20
	MaxPersonaPromptChars = 140
	MaxScenePromptChars   = 900
)

// Progression curve. xp needed for next level = XPBase + (level-1)*XPPerLevel;
// spendable attribute points = BaseAttributePoints + (level-1)*PointsPerLevel.
const (
	XPBase              = 100
	XPPerLevel          = 50
	BaseAttributePoints = 10
	PointsPerLevel      = 5
	MaxAttributeValue   = 20
)

// Timer bounds. The store floor applies before the speed multiplier; the
// dispatch clamp applies after it and is what actually gets persisted in
// due_at.
const (
	MinTimerDelaySeconds      = 30
	TimerDispatchFloorSeconds = 15
	TimerDispatchCeilSeconds  = 300

	SpeedMultiplierMin = 0.1
	SpeedMultiplierMax = 10.0

	// PlayerTurnGuardSeconds skips a timer fire when a player turn
	// landed this recently (their in-flight action owns the moment).
	PlayerTurnGuardSeconds = 5
)

// Turn admission defaults.
const (
	DefaultLeaseTTL           = 90 * time.Second
	DefaultMaxConflictRetries = 1
)

// AttentionWindowSeconds is the largest gap between two player messages
// still counted as continuous play time in the attention stat.
const AttentionWindowSeconds = 600

package models

import (
	"time"
)

// Campaign is the aggregate root of one shared world. All turn mutations
// commit through a compare-and-set on RowVersion; readers outside a turn
// see whole committed versions only.
type Campaign struct {
	ID               string         `json:"id" db:"id"`
	Namespace        string         `json:"namespace" db:"namespace"`
	Name             string         `json:"name" db:"name"`
	NameNormalized   string         `json:"name_normalized" db:"name_normalized"`
	CreatedByActorID *string        `json:"created_by_actor_id,omitempty" db:"created_by_actor_id"`
	Summary          string         `json:"summary" db:"summary"`
	State            map[string]any `json:"state" db:"state"`
	Characters       map[string]any `json:"characters" db:"characters"`
	LastNarration    *string        `json:"last_narration,omitempty" db:"last_narration"`

	// MemoryVisibleMaxTurnID is the watermark for memory-search results.
	// Nil disables filtering; after a rewind it equals the rewind target.
	MemoryVisibleMaxTurnID *int64 `json:"memory_visible_max_turn_id,omitempty" db:"memory_visible_max_turn_id"`

	RowVersion int       `json:"row_version" db:"row_version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Campaign state keys read by the engine and scheduler. They live inside
// the state document rather than as columns so presets and the LLM share
// one namespace with operator knobs.
const (
	StateKeySpeedMultiplier = "speed_multiplier"
	StateKeyOnRails         = "on_rails"
	StateKeyTimedEvents     = "timed_events_enabled"
	StateKeyCalendar        = "calendar"
	StateKeyGameTime        = "game_time"
	StateKeyDefaultPersona  = "default_persona"
)

// OnRails reports whether unknown character slugs should be dropped on
// update instead of creating new characters.
func (c *Campaign) OnRails() bool {
	if c == nil || c.State == nil {
		return false
	}
	v, _ := c.State[StateKeyOnRails].(bool)
	return v
}

// TimedEventsEnabled defaults to true when the flag is absent.
func (c *Campaign) TimedEventsEnabled() bool {
	if c == nil || c.State == nil {
		return true
	}
	if v, ok := c.State[StateKeyTimedEvents].(bool); ok {
		return v
	}
	return true
}

// SpeedMultiplier returns the stored multiplier, 1.0 when absent or
// malformed. The caller clamps at the use site.
func (c *Campaign) SpeedMultiplier() float64 {
	if c == nil || c.State == nil {
		return 1.0
	}
	switch v := c.State[StateKeySpeedMultiplier].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 1.0
	}
}

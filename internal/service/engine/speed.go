package engine

import (
	"strconv"
	"strings"
	"time"

	"fabula/internal/config"
	"fabula/internal/domain/models"
)

// clampSpeedMultiplier bounds the operator-set speed knob.
func clampSpeedMultiplier(v float64) float64 {
	if v < config.SpeedMultiplierMin {
		return config.SpeedMultiplierMin
	}
	if v > config.SpeedMultiplierMax {
		return config.SpeedMultiplierMax
	}
	return v
}

// speedFromState reads the speed_multiplier knob out of a campaign state
// document. Writes clamp the value, but the narrator can patch anything
// into state, so unreadable values fall back to 1.0 and only positive
// values scale delays.
func speedFromState(state map[string]any) float64 {
	raw := state[models.StateKeySpeedMultiplier]
	if raw == nil {
		return 1.0
	}
	if v, ok := toFloat(raw); ok {
		return v
	}
	if s, ok := raw.(string); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 1.0
}

// effectiveTimerDelay converts the narrator's requested delay into the
// duration actually persisted in due_at. The storage floor applies
// before the speed scaling, the dispatch clamp after it.
func effectiveTimerDelay(delaySeconds int, speed float64) time.Duration {
	raw := delaySeconds
	if raw < config.MinTimerDelaySeconds {
		raw = config.MinTimerDelaySeconds
	}
	scaled := float64(raw)
	if speed > 0 {
		scaled /= speed
	}
	if scaled < config.TimerDispatchFloorSeconds {
		scaled = config.TimerDispatchFloorSeconds
	}
	if scaled > config.TimerDispatchCeilSeconds {
		scaled = config.TimerDispatchCeilSeconds
	}
	return time.Duration(scaled) * time.Second
}

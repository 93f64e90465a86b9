package services

import (
	"context"

	"fabula/internal/domain/models"
)

// BindTimerRequest attaches the surface message that displays a scheduled
// timer's countdown
type BindTimerRequest struct {
	MessageID string  `json:"message_id"`
	ChannelID string  `json:"channel_id"`
	ThreadID  *string `json:"thread_id,omitempty"`
}

// TimerService defines the countdown side of timed events: arming
// in-memory countdowns, binding surface messages, and restoring after a
// restart. Firing goes through GameService.RunTimedEvent.
type TimerService interface {
	// GetActiveTimer returns the campaign's pending timer, or
	// domain.ErrNotFound when none is scheduled.
	GetActiveTimer(ctx context.Context, campaignID string) (*models.Timer, error)

	// BindMessage marks the timer bound to its countdown message. Returns
	// false when the timer already left the active states.
	BindMessage(ctx context.Context, timerID string, req *BindTimerRequest) (bool, error)

	// Arm starts the in-memory countdown for a freshly scheduled timer.
	Arm(timer *models.Timer)

	// Restore re-arms countdowns for every active timer in the store.
	// Overdue timers fire immediately through the normal guarded path.
	Restore(ctx context.Context) error
}

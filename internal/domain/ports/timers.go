package ports

import (
	"context"
)

// TimerEffectsPort renders timer lifecycle changes on the chat surface:
// updating the countdown line of a bound timer message and delivering the
// narration of a fired event. Both are best-effort; failures never roll
// back engine state.
type TimerEffectsPort interface {
	EditTimerLine(ctx context.Context, channelID, messageID, line string) error
	EmitTimedEvent(ctx context.Context, campaignID, channelID, actorID, narration string) error
}

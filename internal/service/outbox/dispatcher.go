package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
)

// Handler processes one claimed outbox event. A nil return marks the
// event dispatched; an error schedules a retry with backoff.
type Handler func(ctx context.Context, event *models.OutboxEvent) error

// Polling defaults. Base backoff doubles per attempt up to the cap;
// after DefaultMaxAttempts the event is parked as failed.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 20
	DefaultBaseBackoff  = 5 * time.Second
	DefaultMaxBackoff   = 5 * time.Minute
	DefaultMaxAttempts  = 8
)

// Config tunes the polling loop. Zero values fall back to the defaults
// above; Clock defaults to time.Now.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
	Clock        func() time.Time
}

// Dispatcher drains the transactional outbox. Each poll lists due
// pending events for the registered types, runs their handlers, and
// records the outcome on the row, so a crash between handler and mark
// re-delivers rather than drops. Handlers must tolerate redelivery.
type Dispatcher struct {
	store  *repositories.Store
	logger *slog.Logger

	pollInterval time.Duration
	batchSize    int
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxAttempts  int
	clock        func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	types    []string
}

// NewDispatcher creates a dispatcher with no handlers registered. Events
// of unregistered types are left untouched for a later deployment that
// knows them.
func NewDispatcher(store *repositories.Store, cfg *Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = &Config{}
	}
	d := &Dispatcher{
		store:        store,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		baseBackoff:  cfg.BaseBackoff,
		maxBackoff:   cfg.MaxBackoff,
		maxAttempts:  cfg.MaxAttempts,
		clock:        cfg.Clock,
		handlers:     map[string]Handler{},
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.baseBackoff <= 0 {
		d.baseBackoff = DefaultBaseBackoff
	}
	if d.maxBackoff <= 0 {
		d.maxBackoff = DefaultMaxBackoff
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	return d
}

// Register installs the handler for an event type. A later registration
// for the same type replaces the earlier one.
func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[eventType]; !ok {
		d.types = append(d.types, eventType)
		sort.Strings(d.types)
	}
	d.handlers[eventType] = handler
}

// Run polls until ctx is cancelled. One drain happens immediately so
// events enqueued before startup do not wait out a full interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("outbox dispatcher started",
		"poll_interval", d.pollInterval,
		"event_types", d.registeredTypes(),
	)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.DispatchDue(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			d.DispatchDue(ctx)
		}
	}
}

// DispatchDue processes one batch of due events and returns how many
// handlers ran. Exposed so tests and the seed tool can drain on demand.
func (d *Dispatcher) DispatchDue(ctx context.Context) int {
	types := d.registeredTypes()
	if len(types) == 0 {
		return 0
	}
	events, err := d.store.Outbox.ListDue(ctx, types, d.clock(), d.batchSize)
	if err != nil {
		d.logger.Error("list due outbox events", "error", err)
		return 0
	}
	handled := 0
	for i := range events {
		if ctx.Err() != nil {
			return handled
		}
		d.dispatch(ctx, &events[i])
		handled++
	}
	return handled
}

func (d *Dispatcher) registeredTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.types...)
}

func (d *Dispatcher) dispatch(ctx context.Context, event *models.OutboxEvent) {
	d.mu.RLock()
	handler := d.handlers[event.EventType]
	d.mu.RUnlock()
	if handler == nil {
		return
	}

	err := handler(ctx, event)
	now := d.clock()
	if err == nil {
		if markErr := d.store.Outbox.MarkDispatched(ctx, event.ID, now); markErr != nil {
			d.logger.Error("mark outbox event dispatched",
				"event_id", event.ID,
				"event_type", event.EventType,
				"error", markErr,
			)
		}
		return
	}

	attempts := event.Attempts + 1
	if attempts >= d.maxAttempts {
		d.logger.Error("outbox event failed terminally",
			"event_id", event.ID,
			"event_type", event.EventType,
			"attempts", attempts,
			"error", err,
		)
		if markErr := d.store.Outbox.RecordFailure(ctx, event.ID, nil, now); markErr != nil {
			d.logger.Error("record outbox failure",
				"event_id", event.ID,
				"error", markErr,
			)
		}
		return
	}

	next := now.Add(d.backoffDelay(attempts))
	d.logger.Warn("outbox event handler failed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"attempts", attempts,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", err,
	)
	if markErr := d.store.Outbox.RecordFailure(ctx, event.ID, &next, now); markErr != nil {
		d.logger.Error("record outbox failure",
			"event_id", event.ID,
			"error", markErr,
		)
	}
}

// backoffDelay is the base doubled per attempt, capped.
func (d *Dispatcher) backoffDelay(attempts int) time.Duration {
	delay := d.baseBackoff
	for i := 0; i < attempts && delay < d.maxBackoff; i++ {
		delay *= 2
	}
	if delay > d.maxBackoff {
		delay = d.maxBackoff
	}
	return delay
}

// errNoGPUWorker keeps scene requests pending while no generator is
// registered; they drain once a worker comes back.
var errNoGPUWorker = errors.New("no gpu worker available")

// TimerScheduledHandler refreshes the countdown line on the timer's
// bound message. An unbound timer is an error on purpose: the surface
// binds its message moments after the turn commits, so the retry lands
// once the bind exists.
func TimerScheduledHandler(store *repositories.Store, effects ports.TimerEffectsPort, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		timerID, _ := payloadString(event.Payload, "timer_id")
		if timerID == "" {
			logger.Warn("timer_scheduled event without timer_id", "event_id", event.ID)
			return nil
		}
		timer, err := store.Timers.Get(ctx, timerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load timer %s: %w", timerID, err)
		}
		if !timer.Active() {
			return nil
		}
		if timer.ExternalChannelID == nil || timer.ExternalMessageID == nil {
			return fmt.Errorf("timer %s not bound to a message yet", timerID)
		}
		line := countdownLine(timer)
		if err := effects.EditTimerLine(ctx, *timer.ExternalChannelID, *timer.ExternalMessageID, line); err != nil {
			return fmt.Errorf("edit timer line: %w", err)
		}
		return nil
	}
}

// countdownLine renders the relative-timestamp countdown. The chat
// surface expands <t:..:R> to "in 2 minutes" locally and keeps it live.
func countdownLine(timer *models.Timer) string {
	eventText := strings.TrimSpace(timer.EventText)
	if eventText == "" {
		eventText = "Something happens"
	}
	hint := "act to prevent!"
	if !timer.Interruptible {
		hint = "unavoidable"
	}
	return fmt.Sprintf("⏰ <t:%d:R>: %s (%s)", timer.DueAt.Unix(), eventText, hint)
}

// SceneImageHandler forwards a scene request to the media worker,
// attaching the room's previous render as a reference image when one
// exists so consecutive scenes of the same place stay consistent.
func SceneImageHandler(store *repositories.Store, media ports.MediaGenerationPort, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		prompt, _ := payloadString(event.Payload, "scene_image_prompt")
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			logger.Warn("scene_image_requested event without prompt", "event_id", event.ID)
			return nil
		}
		if !media.GPUWorkerAvailable(ctx) {
			return errNoGPUWorker
		}

		roomKey, _ := payloadString(event.Payload, "room_key")
		actorID, _ := payloadString(event.Payload, "actor_id")
		turnID, _ := payloadInt64(event.Payload, "turn_id")
		req := &ports.SceneGenerationRequest{
			CampaignID: event.CampaignID,
			SessionID:  event.SessionID,
			ActorID:    actorID,
			TurnID:     turnID,
			RoomKey:    roomKey,
			Prompt:     truncateRunes(prompt, config.MaxScenePromptChars),
		}
		if roomKey != "" {
			ref, err := store.Media.LatestSceneForRoom(ctx, event.CampaignID, roomKey)
			switch {
			case err == nil:
				url := ref.URL
				req.ReferenceURL = &url
				if ref.Prompt != nil {
					req.Metadata = map[string]any{"reference_prompt": *ref.Prompt}
				}
			case !errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("latest scene for room %q: %w", roomKey, err)
			}
		}
		if err := media.EnqueueSceneGeneration(ctx, req); err != nil {
			return fmt.Errorf("enqueue scene generation: %w", err)
		}
		return nil
	}
}

// MemoryPruneHandler drops long-term memory entries for turns a rewind
// deleted, so pruned events cannot resurface in search.
func MemoryPruneHandler(memory ports.MemorySearchPort, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		campaignID, _ := payloadString(event.Payload, "campaign_id")
		if campaignID == "" {
			campaignID = event.CampaignID
		}
		afterTurnID, ok := payloadInt64(event.Payload, "after_turn_id")
		if !ok {
			logger.Warn("memory_prune_requested event without after_turn_id", "event_id", event.ID)
			return nil
		}
		if err := memory.DeleteTurnsAfter(ctx, campaignID, afterTurnID); err != nil {
			return fmt.Errorf("prune memory after turn %d: %w", afterTurnID, err)
		}
		return nil
	}
}

// GiveItemUnresolvedHandler surfaces transfers whose target mention
// never resolved to a known actor. The warning is the delivery; there is
// nothing to retry.
func GiveItemUnresolvedHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, event *models.OutboxEvent) error {
		issue, _ := payloadString(event.Payload, "issue")
		var item, mention string
		if give, ok := event.Payload["give_item"].(map[string]any); ok {
			item, _ = payloadString(give, "item")
			mention, _ = payloadString(give, "to_discord_mention")
		}
		logger.Warn("give item target unresolved",
			"campaign_id", event.CampaignID,
			"issue", issue,
			"item", item,
			"mention", mention,
		)
		return nil
	}
}

func payloadString(payload map[string]any, key string) (string, bool) {
	if payload == nil {
		return "", false
	}
	s, ok := payload[key].(string)
	return s, ok
}

// payloadInt64 reads a numeric payload field. JSONB round-trips land as
// float64; fakes keep native ints.
func payloadInt64(payload map[string]any, key string) (int64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

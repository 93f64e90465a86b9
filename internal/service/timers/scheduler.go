package timers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// TimedEventRunner resolves a fired timer. Implemented by the game
// service; a setter breaks the construction cycle between the two.
type TimedEventRunner interface {
	RunTimedEvent(ctx context.Context, timer *models.Timer)
}

// Scheduler keeps one in-memory countdown per active timer. The database
// row is the source of truth: a countdown waking up must win the
// MarkExpired transition before it may fire, so a timer cancelled or
// interrupted while the goroutine slept simply evaporates.
type Scheduler struct {
	store   *repositories.Store
	effects ports.TimerEffectsPort
	clock   func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	runner TimedEventRunner
	waits  map[string]chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Effects may be nil; countdown
// messages are then left alone when a timer expires.
func NewScheduler(store *repositories.Store, effects ports.TimerEffectsPort, clock func() time.Time, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		store:   store,
		effects: effects,
		clock:   clock,
		logger:  logger,
		waits:   map[string]chan struct{}{},
		stop:    make(chan struct{}),
	}
}

var _ services.TimerService = (*Scheduler)(nil)

// SetRunner wires the game service in after both sides exist.
func (s *Scheduler) SetRunner(runner TimedEventRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = runner
}

// GetActiveTimer returns the campaign's pending timer.
func (s *Scheduler) GetActiveTimer(ctx context.Context, campaignID string) (*models.Timer, error) {
	return s.store.Timers.GetActive(ctx, campaignID)
}

// BindMessage attaches the countdown message coordinates to the timer.
func (s *Scheduler) BindMessage(ctx context.Context, timerID string, req *services.BindTimerRequest) (bool, error) {
	bound, err := s.store.Timers.AttachMessage(ctx, timerID, req.MessageID, req.ChannelID, req.ThreadID, s.clock())
	if err != nil {
		return false, fmt.Errorf("attach message: %w", err)
	}
	return bound, nil
}

// Arm starts the countdown for a freshly scheduled timer. Re-arming the
// same timer id replaces the previous countdown.
func (s *Scheduler) Arm(timer *models.Timer) {
	delay := timer.DueAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	cancel := make(chan struct{})
	s.mu.Lock()
	if prev, ok := s.waits[timer.ID]; ok {
		close(prev)
	}
	s.waits[timer.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("timer armed",
		"timer_id", timer.ID,
		"campaign_id", timer.CampaignID,
		"due_in", delay.Round(time.Second).String(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(timer.ID, cancel)

		wait := time.NewTimer(delay)
		defer wait.Stop()
		select {
		case <-wait.C:
			s.fire(timer.ID)
		case <-cancel:
		case <-s.stop:
		}
	}()
}

// Restore re-arms countdowns for every active timer in the store. Overdue
// timers fire immediately through the normal guarded path.
func (s *Scheduler) Restore(ctx context.Context) error {
	active, err := s.store.Timers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active timers: %w", err)
	}
	for i := range active {
		s.Arm(&active[i])
	}
	if len(active) > 0 {
		s.logger.Info("timers restored", "count", len(active))
	}
	return nil
}

// Shutdown stops every countdown and waits for in-flight fires.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) forget(timerID string, cancel chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waits[timerID] == cancel {
		delete(s.waits, timerID)
	}
}

// fire runs when a countdown elapses. Winning the expired transition is
// the ownership check; the loser of a cancel race stops here.
func (s *Scheduler) fire(timerID string) {
	ctx := context.Background()
	now := s.clock()

	timer, err := s.store.Timers.Get(ctx, timerID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("timer load failed", "timer_id", timerID, "error", err)
		}
		return
	}

	expired, err := s.store.Timers.MarkExpired(ctx, timerID, now)
	if err != nil {
		s.logger.Error("timer expire transition failed", "timer_id", timerID, "error", err)
		return
	}
	if !expired {
		return
	}

	if s.effects != nil && timer.ExternalMessageID != nil && timer.ExternalChannelID != nil {
		line := fmt.Sprintf("⚠️ *Timer expired - %s*", timer.EventText)
		if err := s.effects.EditTimerLine(ctx, *timer.ExternalChannelID, *timer.ExternalMessageID, line); err != nil {
			s.logger.Warn("timer line edit failed", "timer_id", timerID, "error", err)
		}
	}

	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		s.logger.Warn("timer fired with no runner wired", "timer_id", timerID)
		return
	}
	runner.RunTimedEvent(ctx, timer)

	if _, err := s.store.Timers.MarkConsumed(ctx, timerID, s.clock()); err != nil {
		s.logger.Warn("timer consume transition failed", "timer_id", timerID, "error", err)
	}
}

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
)

// PostgresTimerRepository implements TimerRepository using PostgreSQL
type PostgresTimerRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewTimerRepository creates a new PostgresTimerRepository
func NewTimerRepository(config *RepositoryConfig) repositories.TimerRepository {
	return &PostgresTimerRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const timerColumns = `id, campaign_id, session_id, status, event_text, interruptible, interrupt_action,
		due_at, fired_at, cancelled_at, external_message_id, external_channel_id, external_thread_id,
		meta, created_at, updated_at`

func scanTimer(row pgx.Row, t *models.Timer) error {
	return row.Scan(
		&t.ID,
		&t.CampaignID,
		&t.SessionID,
		&t.Status,
		&t.EventText,
		&t.Interruptible,
		&t.InterruptAction,
		&t.DueAt,
		&t.FiredAt,
		&t.CancelledAt,
		&t.ExternalMessageID,
		&t.ExternalChannelID,
		&t.ExternalThreadID,
		&t.Meta,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}

// Schedule inserts a new timer in scheduled_unbound. The partial unique
// index rejects the insert while another timer of the campaign is still
// active, which surfaces as a ConflictError.
func (r *PostgresTimerRepository) Schedule(ctx context.Context, timer *models.Timer) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, session_id, status, event_text, interruptible, interrupt_action, due_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, r.tables.Timers)

	if timer.Status == "" {
		timer.Status = models.TimerStatusScheduledUnbound
	}
	if timer.Meta == nil {
		timer.Meta = map[string]any{}
	}

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		timer.CampaignID,
		timer.SessionID,
		timer.Status,
		timer.EventText,
		timer.Interruptible,
		timer.InterruptAction,
		timer.DueAt,
		timer.Meta,
	).Scan(&timer.ID, &timer.CreatedAt, &timer.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("campaign %s already has an active timer", timer.CampaignID),
				ResourceType: "timer",
				ResourceID:   timer.CampaignID,
			}
		}
		return fmt.Errorf("schedule timer: %w", err)
	}

	return nil
}

// GetActive returns the campaign's single active timer
func (r *PostgresTimerRepository) GetActive(ctx context.Context, campaignID string) (*models.Timer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE campaign_id = $1 AND status IN ($2, $3)
	`, timerColumns, r.tables.Timers)

	var timer models.Timer
	executor := GetExecutor(ctx, r.pool)
	err := scanTimer(executor.QueryRow(ctx, query, campaignID,
		models.TimerStatusScheduledUnbound, models.TimerStatusScheduledBound), &timer)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("active timer of campaign %s: %w", campaignID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get active timer: %w", err)
	}

	return &timer, nil
}

// ListActive returns every active timer in the store, oldest first.
// Used on startup to rebuild the in-process schedule.
func (r *PostgresTimerRepository) ListActive(ctx context.Context) ([]models.Timer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE status IN ($1, $2)
		ORDER BY due_at ASC
	`, timerColumns, r.tables.Timers)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query,
		models.TimerStatusScheduledUnbound, models.TimerStatusScheduledBound)
	if err != nil {
		return nil, fmt.Errorf("list active timers: %w", err)
	}
	defer rows.Close()

	var timers []models.Timer
	for rows.Next() {
		var timer models.Timer
		if err := scanTimer(rows, &timer); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, timer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timers: %w", err)
	}

	if timers == nil {
		timers = []models.Timer{}
	}

	return timers, nil
}

// Get retrieves a timer by ID
func (r *PostgresTimerRepository) Get(ctx context.Context, id string) (*models.Timer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, timerColumns, r.tables.Timers)

	var timer models.Timer
	executor := GetExecutor(ctx, r.pool)
	err := scanTimer(executor.QueryRow(ctx, query, id), &timer)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("timer %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get timer: %w", err)
	}

	return &timer, nil
}

// AttachMessage binds surface message coordinates while the timer is
// still active. Returns false when the timer already left the active
// states (fired, cancelled), so a late bind cannot resurrect it.
func (r *PostgresTimerRepository) AttachMessage(ctx context.Context, id, messageID, channelID string, threadID *string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1,
		    external_message_id = $2,
		    external_channel_id = $3,
		    external_thread_id = $4,
		    updated_at = $5
		WHERE id = $6 AND status IN ($7, $8)
	`, r.tables.Timers)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		models.TimerStatusScheduledBound,
		messageID,
		channelID,
		threadID,
		now,
		id,
		models.TimerStatusScheduledUnbound,
		models.TimerStatusScheduledBound,
	)
	if err != nil {
		return false, fmt.Errorf("attach timer message: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// CancelActive cancels every active timer of the campaign
func (r *PostgresTimerRepository) CancelActive(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, cancelled_at = $2, updated_at = $2
		WHERE campaign_id = $3 AND status IN ($4, $5)
	`, r.tables.Timers)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		models.TimerStatusCancelled,
		now,
		campaignID,
		models.TimerStatusScheduledUnbound,
		models.TimerStatusScheduledBound,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel active timers: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkExpired transitions active -> expired exactly once
func (r *PostgresTimerRepository) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, fired_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, r.tables.Timers)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		models.TimerStatusExpired,
		now,
		id,
		models.TimerStatusScheduledUnbound,
		models.TimerStatusScheduledBound,
	)
	if err != nil {
		return false, fmt.Errorf("mark timer expired: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkConsumed transitions expired -> consumed exactly once
func (r *PostgresTimerRepository) MarkConsumed(ctx context.Context, id string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, r.tables.Timers)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		models.TimerStatusConsumed,
		now,
		id,
		models.TimerStatusExpired,
	)
	if err != nil {
		return false, fmt.Errorf("mark timer consumed: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

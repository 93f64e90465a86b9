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

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewOutboxRepository creates a new PostgresOutboxRepository
func NewOutboxRepository(config *RepositoryConfig) repositories.OutboxRepository {
	return &PostgresOutboxRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const outboxColumns = `id, campaign_id, session_id, session_scope, event_type, idempotency_key,
		payload, status, attempts, next_attempt_at, created_at, updated_at`

func scanOutboxEvent(row pgx.Row, e *models.OutboxEvent) error {
	return row.Scan(
		&e.ID,
		&e.CampaignID,
		&e.SessionID,
		&e.SessionScope,
		&e.EventType,
		&e.IdempotencyKey,
		&e.Payload,
		&e.Status,
		&e.Attempts,
		&e.NextAttemptAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
}

// Add inserts an outbox event inside the caller's transaction. A
// duplicate idempotency key is silently dropped, so replays of the same
// logical effect collapse to one delivery.
func (r *PostgresOutboxRepository) Add(ctx context.Context, event *models.OutboxEvent) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, session_id, session_scope, event_type, idempotency_key, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id, session_scope, event_type, idempotency_key) DO NOTHING
	`, r.tables.OutboxEvents)

	if event.SessionScope == "" {
		event.SessionScope = models.OutboxSessionScopeNone
		if event.SessionID != nil {
			event.SessionScope = *event.SessionID
		}
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.Status == "" {
		event.Status = models.OutboxStatusPending
	}

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		event.CampaignID,
		event.SessionID,
		event.SessionScope,
		event.EventType,
		event.IdempotencyKey,
		event.Payload,
		event.Status,
	)
	if err != nil {
		return fmt.Errorf("add outbox event: %w", err)
	}

	return nil
}

// ListDue returns pending events of the given types ready for delivery,
// oldest first
func (r *PostgresOutboxRepository) ListDue(ctx context.Context, eventTypes []string, now time.Time, limit int) ([]models.OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE status = $1
		  AND event_type = ANY($2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4
	`, outboxColumns, r.tables.OutboxEvents)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, models.OutboxStatusPending, eventTypes, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var event models.OutboxEvent
		if err := scanOutboxEvent(rows, &event); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}

	if events == nil {
		events = []models.OutboxEvent{}
	}

	return events, nil
}

// MarkDispatched finalizes a successfully handled event
func (r *PostgresOutboxRepository) MarkDispatched(ctx context.Context, id string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.OutboxEvents)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, models.OutboxStatusDispatched, now, id)
	if err != nil {
		return fmt.Errorf("mark outbox event dispatched: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// RecordFailure bumps the attempt counter. A nil nextAttemptAt marks the
// event failed terminally; otherwise it stays pending and becomes due
// again at that time.
func (r *PostgresOutboxRepository) RecordFailure(ctx context.Context, id string, nextAttemptAt *time.Time, now time.Time) error {
	status := models.OutboxStatusPending
	if nextAttemptAt == nil {
		status = models.OutboxStatusFailed
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, attempts = attempts + 1, next_attempt_at = $2, updated_at = $3
		WHERE id = $4
	`, r.tables.OutboxEvents)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, status, nextAttemptAt, now, id)
	if err != nil {
		return fmt.Errorf("record outbox failure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

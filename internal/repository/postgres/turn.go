package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
)

// PostgresTurnRepository implements TurnRepository using PostgreSQL
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *RepositoryConfig) repositories.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const turnColumns = `id, campaign_id, session_id, actor_id, kind, content, meta,
		external_message_id, external_user_message_id, created_at`

func scanTurn(row pgx.Row, t *models.Turn) error {
	return row.Scan(
		&t.ID,
		&t.CampaignID,
		&t.SessionID,
		&t.ActorID,
		&t.Kind,
		&t.Content,
		&t.Meta,
		&t.ExternalMessageID,
		&t.ExternalUserMessageID,
		&t.CreatedAt,
	)
}

// Append inserts a turn and fills its generated ID and CreatedAt
func (r *PostgresTurnRepository) Append(ctx context.Context, turn *models.Turn) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, session_id, actor_id, kind, content, meta, external_message_id, external_user_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, r.tables.Turns)

	if turn.Meta == nil {
		turn.Meta = map[string]any{}
	}

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		turn.CampaignID,
		turn.SessionID,
		turn.ActorID,
		turn.Kind,
		turn.Content,
		turn.Meta,
		turn.ExternalMessageID,
		turn.ExternalUserMessageID,
	).Scan(&turn.ID, &turn.CreatedAt)

	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	return nil
}

// Recent returns the newest turns of a campaign in ascending id order
func (r *PostgresTurnRepository) Recent(ctx context.Context, campaignID string, limit int) ([]models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s
			FROM %s
			WHERE campaign_id = $1
			ORDER BY id DESC
			LIMIT $2
		) newest
		ORDER BY id ASC
	`, turnColumns, turnColumns, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var turn models.Turn
		if err := scanTurn(rows, &turn); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []models.Turn{}
	}

	return turns, nil
}

// Latest returns the newest turn of a campaign
func (r *PostgresTurnRepository) Latest(ctx context.Context, campaignID string) (*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE campaign_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, turnColumns, r.tables.Turns)

	var turn models.Turn
	executor := GetExecutor(ctx, r.pool)
	err := scanTurn(executor.QueryRow(ctx, query, campaignID), &turn)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("latest turn of campaign %s: %w", campaignID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get latest turn: %w", err)
	}

	return &turn, nil
}

// DeleteAfter removes turns with id strictly greater than afterTurnID.
// A non-empty sessionIDs restricts the delete to those sessions, leaving
// other channels' history in place.
func (r *PostgresTurnRepository) DeleteAfter(ctx context.Context, campaignID string, afterTurnID int64, sessionIDs []string) (int64, error) {
	var query string
	var args []any

	if len(sessionIDs) > 0 {
		query = fmt.Sprintf(`
			DELETE FROM %s
			WHERE campaign_id = $1 AND id > $2 AND session_id = ANY($3)
		`, r.tables.Turns)
		args = []any{campaignID, afterTurnID, sessionIDs}
	} else {
		query = fmt.Sprintf(`
			DELETE FROM %s
			WHERE campaign_id = $1 AND id > $2
		`, r.tables.Turns)
		args = []any{campaignID, afterTurnID}
	}

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete turns after %d: %w", afterTurnID, err)
	}

	return result.RowsAffected(), nil
}

// SetExternalRefs binds surface message ids to a delivered turn
func (r *PostgresTurnRepository) SetExternalRefs(ctx context.Context, turnID int64, messageID, userMessageID *string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET external_message_id = COALESCE($1, external_message_id),
		    external_user_message_id = COALESCE($2, external_user_message_id)
		WHERE id = $3
	`, r.tables.Turns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, messageID, userMessageID, turnID)
	if err != nil {
		return fmt.Errorf("set turn external refs: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("turn %d: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

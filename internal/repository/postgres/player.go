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

// PostgresPlayerRepository implements PlayerRepository using PostgreSQL
type PostgresPlayerRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewPlayerRepository creates a new PostgresPlayerRepository
func NewPlayerRepository(config *RepositoryConfig) repositories.PlayerRepository {
	return &PostgresPlayerRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const playerColumns = `id, campaign_id, actor_id, level, xp, attributes, state,
		last_active_at, created_at, updated_at`

func scanPlayer(row pgx.Row, p *models.Player) error {
	return row.Scan(
		&p.ID,
		&p.CampaignID,
		&p.ActorID,
		&p.Level,
		&p.XP,
		&p.Attributes,
		&p.State,
		&p.LastActiveAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}

// Ensure returns the player for (campaignID, actorID), creating a fresh
// level-1 row when none exists. The insert ignores conflicts so two
// concurrent ensures converge on one row.
func (r *PostgresPlayerRepository) Ensure(ctx context.Context, campaignID, actorID string) (*models.Player, error) {
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, actor_id, level, xp, attributes, state)
		VALUES ($1, $2, 1, 0, '{}'::jsonb, '{}'::jsonb)
		ON CONFLICT (campaign_id, actor_id) DO NOTHING
	`, r.tables.Players)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, insertQuery, campaignID, actorID); err != nil {
		return nil, fmt.Errorf("ensure player: %w", err)
	}

	return r.GetByCampaignActor(ctx, campaignID, actorID)
}

// GetByCampaignActor retrieves a player by campaign and actor
func (r *PostgresPlayerRepository) GetByCampaignActor(ctx context.Context, campaignID, actorID string) (*models.Player, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE campaign_id = $1 AND actor_id = $2
	`, playerColumns, r.tables.Players)

	var player models.Player
	executor := GetExecutor(ctx, r.pool)
	err := scanPlayer(executor.QueryRow(ctx, query, campaignID, actorID), &player)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("player %s in campaign %s: %w", actorID, campaignID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get player: %w", err)
	}

	return &player, nil
}

// ListByCampaign retrieves all players in a campaign
func (r *PostgresPlayerRepository) ListByCampaign(ctx context.Context, campaignID string) ([]models.Player, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE campaign_id = $1
		ORDER BY created_at ASC
	`, playerColumns, r.tables.Players)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var player models.Player
		if err := scanPlayer(rows, &player); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, player)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}

	if players == nil {
		players = []models.Player{}
	}

	return players, nil
}

// Update writes a player's mutable fields
func (r *PostgresPlayerRepository) Update(ctx context.Context, player *models.Player) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET level = $1, xp = $2, attributes = $3, state = $4, last_active_at = $5, updated_at = $6
		WHERE id = $7
	`, r.tables.Players)

	if player.UpdatedAt.IsZero() {
		player.UpdatedAt = time.Now()
	}

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		player.Level,
		player.XP,
		player.Attributes,
		player.State,
		player.LastActiveAt,
		player.UpdatedAt,
		player.ID,
	)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", player.ID, domain.ErrNotFound)
	}

	return nil
}

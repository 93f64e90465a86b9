package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
)

// PostgresSnapshotRepository implements SnapshotRepository using PostgreSQL
type PostgresSnapshotRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewSnapshotRepository creates a new PostgresSnapshotRepository
func NewSnapshotRepository(config *RepositoryConfig) repositories.SnapshotRepository {
	return &PostgresSnapshotRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Add inserts a snapshot; a second snapshot for the same turn is a no-op
func (r *PostgresSnapshotRepository) Add(ctx context.Context, snapshot *models.Snapshot) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, turn_id, campaign_state, campaign_characters, campaign_summary, campaign_last_narration, players)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (turn_id) DO NOTHING
	`, r.tables.Snapshots)

	if snapshot.CampaignState == nil {
		snapshot.CampaignState = map[string]any{}
	}
	if snapshot.CampaignCharacters == nil {
		snapshot.CampaignCharacters = map[string]any{}
	}
	if snapshot.Players == nil {
		snapshot.Players = map[string]any{}
	}

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		snapshot.CampaignID,
		snapshot.TurnID,
		snapshot.CampaignState,
		snapshot.CampaignCharacters,
		snapshot.CampaignSummary,
		snapshot.CampaignNarration,
		snapshot.Players,
	)
	if err != nil {
		return fmt.Errorf("add snapshot: %w", err)
	}

	return nil
}

// GetByTurn retrieves the snapshot for a turn, scoped to the campaign so
// a turn id from another campaign does not match
func (r *PostgresSnapshotRepository) GetByTurn(ctx context.Context, campaignID string, turnID int64) (*models.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT id, campaign_id, turn_id, campaign_state, campaign_characters, campaign_summary, campaign_last_narration, players, created_at
		FROM %s
		WHERE campaign_id = $1 AND turn_id = $2
	`, r.tables.Snapshots)

	var snapshot models.Snapshot
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, campaignID, turnID).Scan(
		&snapshot.ID,
		&snapshot.CampaignID,
		&snapshot.TurnID,
		&snapshot.CampaignState,
		&snapshot.CampaignCharacters,
		&snapshot.CampaignSummary,
		&snapshot.CampaignNarration,
		&snapshot.Players,
		&snapshot.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("snapshot for turn %d in campaign %s: %w", turnID, campaignID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	return &snapshot, nil
}

// DeleteAfterTurn removes snapshots for turns strictly greater than afterTurnID
func (r *PostgresSnapshotRepository) DeleteAfterTurn(ctx context.Context, campaignID string, afterTurnID int64) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE campaign_id = $1 AND turn_id > $2
	`, r.tables.Snapshots)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, campaignID, afterTurnID)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots after turn %d: %w", afterTurnID, err)
	}

	return result.RowsAffected(), nil
}

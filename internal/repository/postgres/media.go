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

// PostgresMediaRefRepository implements MediaRefRepository using PostgreSQL
type PostgresMediaRefRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMediaRefRepository creates a new PostgresMediaRefRepository
func NewMediaRefRepository(config *RepositoryConfig) repositories.MediaRefRepository {
	return &PostgresMediaRefRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Record inserts a delivered media artifact
func (r *PostgresMediaRefRepository) Record(ctx context.Context, ref *models.MediaRef) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, player_id, ref_type, room_key, url, prompt, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, r.tables.MediaRefs)

	if ref.Metadata == nil {
		ref.Metadata = map[string]any{}
	}

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		ref.CampaignID,
		ref.PlayerID,
		ref.RefType,
		ref.RoomKey,
		ref.URL,
		ref.Prompt,
		ref.Metadata,
	).Scan(&ref.ID, &ref.CreatedAt, &ref.UpdatedAt)

	if err != nil {
		return fmt.Errorf("record media ref: %w", err)
	}

	return nil
}

// LatestSceneForRoom returns the newest scene ref for a room key
func (r *PostgresMediaRefRepository) LatestSceneForRoom(ctx context.Context, campaignID, roomKey string) (*models.MediaRef, error) {
	query := fmt.Sprintf(`
		SELECT id, campaign_id, player_id, ref_type, room_key, url, prompt, metadata, created_at, updated_at
		FROM %s
		WHERE campaign_id = $1 AND ref_type = $2 AND room_key = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, r.tables.MediaRefs)

	var ref models.MediaRef
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, campaignID, models.MediaRefScene, roomKey).Scan(
		&ref.ID,
		&ref.CampaignID,
		&ref.PlayerID,
		&ref.RefType,
		&ref.RoomKey,
		&ref.URL,
		&ref.Prompt,
		&ref.Metadata,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("scene ref for room %s: %w", roomKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get scene ref: %w", err)
	}

	return &ref, nil
}

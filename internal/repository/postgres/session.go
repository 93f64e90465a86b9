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

// PostgresSessionRepository implements SessionRepository using PostgreSQL
type PostgresSessionRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewSessionRepository creates a new PostgresSessionRepository
func NewSessionRepository(config *RepositoryConfig) repositories.SessionRepository {
	return &PostgresSessionRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const sessionColumns = `id, campaign_id, surface, surface_key, surface_guild_id, surface_channel_id,
		surface_thread_id, enabled, metadata, created_at, updated_at`

func scanSession(row pgx.Row, s *models.Session) error {
	return row.Scan(
		&s.ID,
		&s.CampaignID,
		&s.Surface,
		&s.SurfaceKey,
		&s.SurfaceGuildID,
		&s.SurfaceChannelID,
		&s.SurfaceThreadID,
		&s.Enabled,
		&s.Metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}

// Ensure upserts by surface key and returns the stored row. An existing
// binding keeps its campaign; only the surface coordinates refresh.
func (r *PostgresSessionRepository) Ensure(ctx context.Context, session *models.Session) (*models.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, surface, surface_key, surface_guild_id, surface_channel_id, surface_thread_id, enabled, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (surface_key) DO UPDATE
		SET surface_guild_id = EXCLUDED.surface_guild_id,
		    surface_channel_id = EXCLUDED.surface_channel_id,
		    surface_thread_id = EXCLUDED.surface_thread_id,
		    updated_at = NOW()
		RETURNING %s
	`, r.tables.Sessions, sessionColumns)

	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}

	var stored models.Session
	executor := GetExecutor(ctx, r.pool)
	err := scanSession(executor.QueryRow(ctx, query,
		session.CampaignID,
		session.Surface,
		session.SurfaceKey,
		session.SurfaceGuildID,
		session.SurfaceChannelID,
		session.SurfaceThreadID,
		session.Enabled,
		session.Metadata,
	), &stored)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	return &stored, nil
}

// Get retrieves a session by ID
func (r *PostgresSessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, sessionColumns, r.tables.Sessions)

	var session models.Session
	executor := GetExecutor(ctx, r.pool)
	err := scanSession(executor.QueryRow(ctx, query, id), &session)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &session, nil
}

// GetBySurfaceKey retrieves a session by its surface key
func (r *PostgresSessionRepository) GetBySurfaceKey(ctx context.Context, surfaceKey string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE surface_key = $1
	`, sessionColumns, r.tables.Sessions)

	var session models.Session
	executor := GetExecutor(ctx, r.pool)
	err := scanSession(executor.QueryRow(ctx, query, surfaceKey), &session)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("session for surface %s: %w", surfaceKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session by surface key: %w", err)
	}

	return &session, nil
}

// ListIDsByChannel returns the campaign's session ids bound to a channel
// (matching either the channel or the thread coordinate)
func (r *PostgresSessionRepository) ListIDsByChannel(ctx context.Context, campaignID, channelID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id
		FROM %s
		WHERE campaign_id = $1 AND (surface_channel_id = $2 OR surface_thread_id = $2)
	`, r.tables.Sessions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, campaignID, channelID)
	if err != nil {
		return nil, fmt.Errorf("list sessions by channel: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session ids: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

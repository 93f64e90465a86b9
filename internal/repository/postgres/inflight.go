package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain/repositories"
)

// PostgresInflightRepository implements InflightRepository using PostgreSQL
type PostgresInflightRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewInflightRepository creates a new PostgresInflightRepository
func NewInflightRepository(config *RepositoryConfig) repositories.InflightRepository {
	return &PostgresInflightRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// AcquireOrSteal claims the (campaign, actor) lease in one upsert: a
// fresh pair inserts, an expired lease is overwritten, and a live lease
// leaves zero rows affected.
func (r *PostgresInflightRepository) AcquireOrSteal(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (campaign_id, actor_id, claim_token, claimed_at, heartbeat_at, expires_at)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (campaign_id, actor_id) DO UPDATE
		SET claim_token = EXCLUDED.claim_token,
		    claimed_at = EXCLUDED.claimed_at,
		    heartbeat_at = EXCLUDED.heartbeat_at,
		    expires_at = EXCLUDED.expires_at
		WHERE %s.expires_at < EXCLUDED.claimed_at
	`, r.tables.InflightTurns, r.tables.InflightTurns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, campaignID, actorID, claimToken, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire turn lease: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ValidateToken reports whether the lease still belongs to this token
// and has not expired
func (r *PostgresInflightRepository) ValidateToken(ctx context.Context, campaignID, actorID, claimToken string, now time.Time) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE campaign_id = $1 AND actor_id = $2 AND claim_token = $3 AND expires_at >= $4
		)
	`, r.tables.InflightTurns)

	var valid bool
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, campaignID, actorID, claimToken, now).Scan(&valid); err != nil {
		return false, fmt.Errorf("validate turn lease: %w", err)
	}

	return valid, nil
}

// Heartbeat extends the lease, conditional on still holding the token
func (r *PostgresInflightRepository) Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET heartbeat_at = $1, expires_at = $2
		WHERE campaign_id = $3 AND actor_id = $4 AND claim_token = $5
	`, r.tables.InflightTurns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, now, expiresAt, campaignID, actorID, claimToken)
	if err != nil {
		return false, fmt.Errorf("heartbeat turn lease: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Release deletes the lease, conditional on the token. Zero rows removed
// means the lease was already stolen or released; callers treat that as
// fine.
func (r *PostgresInflightRepository) Release(ctx context.Context, campaignID, actorID, claimToken string) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE campaign_id = $1 AND actor_id = $2 AND claim_token = $3
	`, r.tables.InflightTurns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, campaignID, actorID, claimToken)
	if err != nil {
		return 0, fmt.Errorf("release turn lease: %w", err)
	}

	return result.RowsAffected(), nil
}

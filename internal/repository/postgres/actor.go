package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
)

// PostgresActorRepository implements ActorRepository using PostgreSQL
type PostgresActorRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewActorRepository creates a new PostgresActorRepository
func NewActorRepository(config *RepositoryConfig) repositories.ActorRepository {
	return &PostgresActorRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts an actor. The caller supplies the id; actor ids are
// opaque strings so well-known identities (the system actor) can use
// fixed ids.
func (r *PostgresActorRepository) Create(ctx context.Context, actor *models.Actor) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, display_name, kind, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, r.tables.Actors)

	if actor.Metadata == nil {
		actor.Metadata = map[string]any{}
	}

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		actor.ID,
		actor.DisplayName,
		actor.Kind,
		actor.Metadata,
	).Scan(&actor.CreatedAt, &actor.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("actor '%s' already exists", actor.ID),
				ResourceType: "actor",
				ResourceID:   actor.ID,
			}
		}
		return fmt.Errorf("create actor: %w", err)
	}

	return nil
}

// Get retrieves an actor by ID
func (r *PostgresActorRepository) Get(ctx context.Context, id string) (*models.Actor, error) {
	query := fmt.Sprintf(`
		SELECT id, display_name, kind, metadata, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Actors)

	var actor models.Actor
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&actor.ID,
		&actor.DisplayName,
		&actor.Kind,
		&actor.Metadata,
		&actor.CreatedAt,
		&actor.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("actor %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}

	return &actor, nil
}

// EnsureByExternalRef returns the actor bound to (provider, externalID),
// creating the actor and the ref when no binding exists yet. Losing a
// concurrent create race falls back to the winner's binding.
func (r *PostgresActorRepository) EnsureByExternalRef(ctx context.Context, provider, externalID, displayName string) (*models.Actor, error) {
	actorID, err := r.ResolveExternalRef(ctx, provider, externalID)
	if err == nil {
		return r.Get(ctx, actorID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	actor := &models.Actor{
		ID:       uuid.NewString(),
		Kind:     models.ActorKindHuman,
		Metadata: map[string]any{},
	}
	if displayName != "" {
		actor.DisplayName = &displayName
	}
	if err := r.Create(ctx, actor); err != nil {
		return nil, err
	}

	refQuery := fmt.Sprintf(`
		INSERT INTO %s (actor_id, provider, external_id, metadata)
		VALUES ($1, $2, $3, '{}'::jsonb)
		ON CONFLICT (provider, external_id) DO NOTHING
	`, r.tables.ActorExternalRefs)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, refQuery, actor.ID, provider, externalID)
	if err != nil {
		return nil, fmt.Errorf("create actor external ref: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Lost the race. Drop the actor we just made and use the winner's.
		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Actors)
		if _, err := executor.Exec(ctx, deleteQuery, actor.ID); err != nil {
			r.logger.Warn("failed to remove unbound actor after ref race",
				"actor_id", actor.ID, "error", err)
		}

		winnerID, err := r.ResolveExternalRef(ctx, provider, externalID)
		if err != nil {
			return nil, err
		}
		return r.Get(ctx, winnerID)
	}

	return actor, nil
}

// ResolveExternalRef returns the actor id bound to (provider, externalID)
func (r *PostgresActorRepository) ResolveExternalRef(ctx context.Context, provider, externalID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT actor_id
		FROM %s
		WHERE provider = $1 AND external_id = $2
	`, r.tables.ActorExternalRefs)

	var actorID string
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, provider, externalID).Scan(&actorID)
	if err != nil {
		if IsPgNoRowsError(err) {
			return "", fmt.Errorf("external ref %s/%s: %w", provider, externalID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("resolve external ref: %w", err)
	}

	return actorID, nil
}

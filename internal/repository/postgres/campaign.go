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

// PostgresCampaignRepository implements CampaignRepository using PostgreSQL
type PostgresCampaignRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewCampaignRepository creates a new PostgresCampaignRepository
func NewCampaignRepository(config *RepositoryConfig) repositories.CampaignRepository {
	return &PostgresCampaignRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const campaignColumns = `id, namespace, name, name_normalized, created_by_actor_id, summary,
		state, characters, last_narration, memory_visible_max_turn_id, row_version,
		created_at, updated_at`

func scanCampaign(row pgx.Row, c *models.Campaign) error {
	return row.Scan(
		&c.ID,
		&c.Namespace,
		&c.Name,
		&c.NameNormalized,
		&c.CreatedByActorID,
		&c.Summary,
		&c.State,
		&c.Characters,
		&c.LastNarration,
		&c.MemoryVisibleMaxTurnID,
		&c.RowVersion,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

// Create inserts a new campaign at row version 1
func (r *PostgresCampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, name, name_normalized, created_by_actor_id, summary, state, characters, last_narration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, row_version, created_at, updated_at
	`, r.tables.Campaigns)

	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		campaign.Namespace,
		campaign.Name,
		campaign.NameNormalized,
		campaign.CreatedByActorID,
		campaign.Summary,
		campaign.State,
		campaign.Characters,
		campaign.LastNarration,
	).Scan(&campaign.ID, &campaign.RowVersion, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("campaign '%s' already exists in namespace '%s'", campaign.NameNormalized, campaign.Namespace),
				ResourceType: "campaign",
				ResourceID:   campaign.NameNormalized,
			}
		}
		return fmt.Errorf("create campaign: %w", err)
	}

	return nil
}

// Get retrieves a campaign by ID
func (r *PostgresCampaignRepository) Get(ctx context.Context, id string) (*models.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, campaignColumns, r.tables.Campaigns)

	var campaign models.Campaign
	executor := GetExecutor(ctx, r.pool)
	err := scanCampaign(executor.QueryRow(ctx, query, id), &campaign)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	return &campaign, nil
}

// GetByName retrieves a campaign by its normalized name within a namespace
func (r *PostgresCampaignRepository) GetByName(ctx context.Context, namespace, nameNormalized string) (*models.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE namespace = $1 AND name_normalized = $2
	`, campaignColumns, r.tables.Campaigns)

	var campaign models.Campaign
	executor := GetExecutor(ctx, r.pool)
	err := scanCampaign(executor.QueryRow(ctx, query, namespace, nameNormalized), &campaign)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("campaign '%s' in namespace '%s': %w", nameNormalized, namespace, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get campaign by name: %w", err)
	}

	return &campaign, nil
}

// ListByNamespace retrieves all campaigns in a namespace
func (r *PostgresCampaignRepository) ListByNamespace(ctx context.Context, namespace string) ([]models.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE namespace = $1
		ORDER BY created_at DESC
	`, campaignColumns, r.tables.Campaigns)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var campaign models.Campaign
		if err := scanCampaign(rows, &campaign); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}

	if campaigns == nil {
		campaigns = []models.Campaign{}
	}

	return campaigns, nil
}

// CASApplyUpdate commits the turn's accumulated writes, guarded by the
// row version read in the claim phase. Zero rows affected means another
// commit won the race; the caller decides whether to retry.
func (r *PostgresCampaignRepository) CASApplyUpdate(ctx context.Context, upd *repositories.CampaignCASUpdate) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET summary = $1,
		    state = $2,
		    characters = $3,
		    last_narration = $4,
		    memory_visible_max_turn_id = $5,
		    row_version = row_version + 1,
		    updated_at = $6
		WHERE id = $7 AND row_version = $8
	`, r.tables.Campaigns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		upd.Summary,
		upd.State,
		upd.Characters,
		upd.LastNarration,
		upd.MemoryVisibleMaxTurnID,
		upd.Now,
		upd.CampaignID,
		upd.ExpectedRowVersion,
	)
	if err != nil {
		return false, fmt.Errorf("cas update campaign: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// UpdateState overwrites the state document without bumping row_version,
// so operator knob changes never invalidate an in-flight turn commit.
func (r *PostgresCampaignRepository) UpdateState(ctx context.Context, id string, state map[string]any, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET state = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.Campaigns)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, state, now, id)
	if err != nil {
		return fmt.Errorf("update campaign state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

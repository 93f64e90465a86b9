package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
	"fabula/internal/repository/postgres"
)

// Demo identities joined to seeded campaigns. Fixed external ids keep
// reseeding idempotent through the external-ref upsert.
var demoPlayers = []struct {
	ExternalID  string
	DisplayName string
}{
	{"100000000000000001", "Alice"},
	{"100000000000000002", "Bob"},
}

// CampaignSeeder creates demo campaigns with sample players for local
// development
type CampaignSeeder struct {
	store     *repositories.Store
	campaigns services.CampaignService
	logger    *slog.Logger
}

// NewCampaignSeeder creates a new campaign seeder
func NewCampaignSeeder(store *repositories.Store, campaigns services.CampaignService, logger *slog.Logger) *CampaignSeeder {
	return &CampaignSeeder{
		store:     store,
		campaigns: campaigns,
		logger:    logger,
	}
}

// SeedCampaign creates or reuses the named campaign and joins the demo
// players to it. A name matching a preset seeds that preset's world. When
// the campaign carries an opening narration and the turn log is still
// empty, the narration becomes the first narrator turn.
func (s *CampaignSeeder) SeedCampaign(ctx context.Context, namespace, name string) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetOrCreateByName(ctx, namespace, name, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create campaign: %w", err)
	}

	for _, dp := range demoPlayers {
		actor, err := s.store.Actors.EnsureByExternalRef(ctx, models.ProviderDiscord, dp.ExternalID, dp.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("ensure actor %s: %w", dp.DisplayName, err)
		}
		player, err := s.store.Players.Ensure(ctx, campaign.ID, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("ensure player %s: %w", dp.DisplayName, err)
		}
		s.logger.Info("demo player joined",
			"campaign_id", campaign.ID,
			"actor_id", actor.ID,
			"player_id", player.ID,
			"display_name", dp.DisplayName,
		)
	}

	if err := s.seedOpeningTurn(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// seedOpeningTurn appends the preset's opening narration as the first
// narrator turn of a fresh campaign.
func (s *CampaignSeeder) seedOpeningTurn(ctx context.Context, campaign *models.Campaign) error {
	if campaign.LastNarration == nil || strings.TrimSpace(*campaign.LastNarration) == "" {
		return nil
	}
	_, err := s.store.Turns.Latest(ctx, campaign.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("check turn log: %w", err)
	}

	turn := &models.Turn{
		CampaignID: campaign.ID,
		Kind:       models.TurnKindNarrator,
		Content:    *campaign.LastNarration,
		Meta:       map[string]any{"seeded": true},
	}
	if err := s.store.Turns.Append(ctx, turn); err != nil {
		return fmt.Errorf("append opening turn: %w", err)
	}
	s.logger.Info("opening narration seeded",
		"campaign_id", campaign.ID,
		"turn_id", turn.ID,
	)
	return nil
}

// ClearData removes all campaign data while keeping the schema. Tables
// are cleared children first so the deletes never trip a foreign key.
func ClearData(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	order := []string{
		tables.MediaRefs,
		tables.OutboxEvents,
		tables.Timers,
		tables.InflightTurns,
		tables.Snapshots,
		tables.Turns,
		tables.Sessions,
		tables.Players,
		tables.ActorExternalRefs,
		tables.Actors,
		tables.Campaigns,
	}
	for _, table := range order {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// DropTables drops every prefixed table plus the prefix's migration
// bookkeeping, so the next migration run rebuilds the schema from zero.
func DropTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	order := []string{
		tables.MediaRefs,
		tables.OutboxEvents,
		tables.Timers,
		tables.InflightTurns,
		tables.Snapshots,
		tables.Turns,
		tables.Sessions,
		tables.Players,
		tables.ActorExternalRefs,
		tables.Actors,
		tables.Campaigns,
		tablePrefix + "schema_migrations",
	}
	for _, table := range order {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/config"
	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

func TestNormalizeCampaignName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Main", "main"},
		{"  My   Epic Campaign  ", "my epic campaign"},
		{"Dragon's Lair!", "dragons lair"},
		{"Crypt_of-Kings", "crypt_of-kings"},
		{"", "main"},
		{"???", "main"},
		{strings.Repeat("a", 70), strings.Repeat("a", 64)},
	}
	for _, tc := range cases {
		if got := normalizeCampaignName(tc.in); got != tc.want {
			t.Errorf("normalizeCampaignName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func newCampaignService(t *testing.T) (*memStore, *repositories.Store, services.CampaignService) {
	t.Helper()
	store := newMemStore(nil)
	repos := store.repos()
	svc := NewCampaignService(repos, &memTxManager{store: store}, discardLogger())
	return store, repos, svc
}

func TestCreateCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("plain campaign", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{
			Namespace: "guild-1",
			Name:      "  The Deep Dark  ",
		})
		require.NoError(t, err)
		assert.Equal(t, "The Deep Dark", campaign.Name)
		assert.Equal(t, "the deep dark", campaign.NameNormalized)
		assert.Equal(t, 1, campaign.RowVersion)
		assert.Empty(t, campaign.Summary)
		assert.NotNil(t, campaign.State)
		assert.NotNil(t, campaign.Characters)
		assert.Nil(t, campaign.LastNarration)
	})

	t.Run("validation", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		_, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Name: "No Namespace"})
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)

		_, err = svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1"})
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	})

	t.Run("unknown preset", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		_, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{
			Namespace: "guild-1",
			Name:      "Whatever",
			Preset:    "atlantis",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	})

	t.Run("duplicate name in namespace", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		_, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)
		_, err = svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "MAIN"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	})

	t.Run("same name in another namespace", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		_, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)
		_, err = svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-2", Name: "Main"})
		assert.NoError(t, err)
	})

	t.Run("preset seeds the world", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{
			Namespace: "guild-1",
			Name:      "Wonderland Run",
			Preset:    "Alice In Wonderland",
		})
		require.NoError(t, err)
		assert.Contains(t, campaign.Summary, "White Rabbit")
		assert.Equal(t, "Alice in Wonderland", campaign.State["setting"])
		assert.Contains(t, campaign.Characters, "white_rabbit")
		assert.Contains(t, campaign.Characters, "cheshire_cat")
		require.NotNil(t, campaign.LastNarration)
		assert.Contains(t, *campaign.LastNarration, "Riverbank")

		persona, _ := campaign.State[models.StateKeyDefaultPersona].(string)
		require.NotEmpty(t, persona)
		assert.LessOrEqual(t, utf8.RuneCountInString(persona), config.MaxPersonaPromptChars)
	})
}

func TestGetOrCreateByName(t *testing.T) {
	ctx := context.Background()

	t.Run("creates on first use and reuses after", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		created, err := svc.GetOrCreateByName(ctx, "guild-1", "Skyfall", nil)
		require.NoError(t, err)
		assert.Equal(t, "skyfall", created.NameNormalized)

		again, err := svc.GetOrCreateByName(ctx, "guild-1", "  SKYFALL ", nil)
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)

		all, err := svc.ListCampaigns(ctx, "guild-1")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("preset name seeds on first use", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		campaign, err := svc.GetOrCreateByName(ctx, "guild-1", "ALICE", nil)
		require.NoError(t, err)
		assert.Contains(t, campaign.Characters, "white_rabbit")
		require.NotNil(t, campaign.LastNarration)
	})

	t.Run("loser of a create race reads the winner back", func(t *testing.T) {
		store, repos, _ := newCampaignService(t)
		winner := &models.Campaign{
			Namespace:      "guild-1",
			Name:           "Race",
			NameNormalized: "race",
			State:          map[string]any{},
			Characters:     map[string]any{},
		}
		require.NoError(t, repos.Campaigns.Create(ctx, winner))

		racing := *repos
		racing.Campaigns = &missOnceCampaigns{CampaignRepository: repos.Campaigns}
		svc := NewCampaignService(&racing, &memTxManager{store: store}, discardLogger())

		campaign, err := svc.GetOrCreateByName(ctx, "guild-1", "Race", nil)
		require.NoError(t, err)
		assert.Equal(t, winner.ID, campaign.ID)
	})
}

// missOnceCampaigns reports the name free on the first lookup, recreating
// the window where two surfaces race to create the same campaign.
type missOnceCampaigns struct {
	repositories.CampaignRepository
	looked bool
}

func (c *missOnceCampaigns) GetByName(ctx context.Context, namespace, nameNormalized string) (*models.Campaign, error) {
	if !c.looked {
		c.looked = true
		return nil, domain.ErrNotFound
	}
	return c.CampaignRepository.GetByName(ctx, namespace, nameNormalized)
}

func TestSetSpeedMultiplier(t *testing.T) {
	ctx := context.Background()
	_, repos, svc := newCampaignService(t)
	campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
	require.NoError(t, err)

	t.Run("rejects non-finite values", func(t *testing.T) {
		_, err := svc.SetSpeedMultiplier(ctx, campaign.ID, math.NaN())
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		_, err = svc.SetSpeedMultiplier(ctx, campaign.ID, math.Inf(1))
		assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	})

	t.Run("clamps into range", func(t *testing.T) {
		stored, err := svc.SetSpeedMultiplier(ctx, campaign.ID, 100)
		require.NoError(t, err)
		assert.Equal(t, config.SpeedMultiplierMax, stored)

		stored, err = svc.SetSpeedMultiplier(ctx, campaign.ID, 0.001)
		require.NoError(t, err)
		assert.Equal(t, config.SpeedMultiplierMin, stored)
	})

	t.Run("stores without bumping the row version", func(t *testing.T) {
		stored, err := svc.SetSpeedMultiplier(ctx, campaign.ID, 2.5)
		require.NoError(t, err)
		assert.Equal(t, 2.5, stored)

		reloaded, err := repos.Campaigns.Get(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 2.5, reloaded.State[models.StateKeySpeedMultiplier])
		assert.Equal(t, 1, reloaded.RowVersion, "pacing knobs must not abort in-flight turns")
		assert.Equal(t, 2.5, reloaded.SpeedMultiplier())
	})

	t.Run("unknown campaign", func(t *testing.T) {
		_, err := svc.SetSpeedMultiplier(ctx, "missing", 2)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})
}

func TestSetFlags(t *testing.T) {
	ctx := context.Background()

	t.Run("sets on_rails", func(t *testing.T) {
		_, repos, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)

		on := true
		updated, err := svc.SetFlags(ctx, campaign.ID, &services.UpdateFlagsRequest{OnRails: &on})
		require.NoError(t, err)
		assert.True(t, updated.OnRails())
		assert.True(t, updated.TimedEventsEnabled(), "untouched flags keep their defaults")

		reloaded, err := repos.Campaigns.Get(ctx, campaign.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.OnRails())
		assert.Equal(t, 1, reloaded.RowVersion)
	})

	t.Run("disabling timed events cancels the pending timer", func(t *testing.T) {
		_, repos, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)
		timer := &models.Timer{
			CampaignID: campaign.ID,
			Status:     models.TimerStatusScheduledUnbound,
			EventText:  "The volcano erupts.",
			DueAt:      time.Now().Add(time.Hour),
		}
		require.NoError(t, repos.Timers.Schedule(ctx, timer))

		off := false
		updated, err := svc.SetFlags(ctx, campaign.ID, &services.UpdateFlagsRequest{TimedEventsEnabled: &off})
		require.NoError(t, err)
		assert.False(t, updated.TimedEventsEnabled())

		stored, err := repos.Timers.Get(ctx, timer.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TimerStatusCancelled, stored.Status)
	})

	t.Run("re-enabling leaves timers alone", func(t *testing.T) {
		_, repos, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)
		timer := &models.Timer{
			CampaignID: campaign.ID,
			Status:     models.TimerStatusScheduledUnbound,
			EventText:  "The volcano erupts.",
			DueAt:      time.Now().Add(time.Hour),
		}
		require.NoError(t, repos.Timers.Schedule(ctx, timer))

		on := true
		_, err = svc.SetFlags(ctx, campaign.ID, &services.UpdateFlagsRequest{TimedEventsEnabled: &on})
		require.NoError(t, err)

		active, err := repos.Timers.GetActive(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, timer.ID, active.ID)
	})

	t.Run("nil request is a no-op", func(t *testing.T) {
		_, _, svc := newCampaignService(t)
		campaign, err := svc.CreateCampaign(ctx, &services.CreateCampaignRequest{Namespace: "guild-1", Name: "Main"})
		require.NoError(t, err)

		updated, err := svc.SetFlags(ctx, campaign.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, campaign.ID, updated.ID)
	})
}

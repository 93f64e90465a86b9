package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

func newMediaService(t *testing.T) (*repositories.Store, services.MediaService) {
	t.Helper()
	store := newMemStore(nil)
	repos := store.repos()
	svc := NewMediaService(repos, &memTxManager{store: store}, discardLogger())
	return repos, svc
}

func TestRecordCompletionScene(t *testing.T) {
	ctx := context.Background()
	repos, svc := newMediaService(t)

	ref, err := svc.RecordCompletion(ctx, &services.MediaCompletionRequest{
		CampaignID: "camp-1",
		RefType:    models.MediaRefScene,
		RoomKey:    "  The   GRAND Hall ",
		URL:        "https://img.example/hall.png",
		Prompt:     "a grand hall",
	})
	require.NoError(t, err)
	require.NotNil(t, ref.RoomKey)
	assert.Equal(t, "the grand hall", *ref.RoomKey)
	assert.NotEmpty(t, ref.ID)
	require.NotNil(t, ref.Prompt)
	assert.Equal(t, "a grand hall", *ref.Prompt)

	found, err := svc.LatestScene(ctx, "camp-1", "the grand hall")
	require.NoError(t, err)
	assert.Equal(t, ref.ID, found.ID)

	// Lookup normalizes the same way recording does
	found, err = svc.LatestScene(ctx, "camp-1", "THE GRAND   HALL")
	require.NoError(t, err)
	assert.Equal(t, ref.ID, found.ID)

	_, err = repos.Media.LatestSceneForRoom(ctx, "camp-1", "elsewhere")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestRecordCompletionSceneWithoutRoomKey(t *testing.T) {
	ctx := context.Background()
	_, svc := newMediaService(t)

	ref, err := svc.RecordCompletion(ctx, &services.MediaCompletionRequest{
		CampaignID: "camp-1",
		RefType:    models.MediaRefScene,
		URL:        "https://img.example/x.png",
	})
	require.NoError(t, err)
	require.NotNil(t, ref.RoomKey)
	assert.Equal(t, "unknown-room", *ref.RoomKey)
}

func TestRecordCompletionPlayerAvatar(t *testing.T) {
	ctx := context.Background()
	repos, svc := newMediaService(t)

	player, err := repos.Players.Ensure(ctx, "camp-1", "actor-1")
	require.NoError(t, err)

	actorID := "actor-1"
	ref, err := svc.RecordCompletion(ctx, &services.MediaCompletionRequest{
		CampaignID: "camp-1",
		RefType:    models.MediaRefAvatar,
		ActorID:    &actorID,
		URL:        "https://img.example/mira.png",
	})
	require.NoError(t, err)
	require.NotNil(t, ref.PlayerID)
	assert.Equal(t, player.ID, *ref.PlayerID)

	updated, err := repos.Players.GetByCampaignActor(ctx, "camp-1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/mira.png", updated.State["avatar_url"])
}

func TestRecordCompletionCharacterPortrait(t *testing.T) {
	ctx := context.Background()
	repos, svc := newMediaService(t)

	_, err := repos.Players.Ensure(ctx, "camp-1", "actor-1")
	require.NoError(t, err)

	// The requesting actor id is echoed back, but the slug marks this as
	// a roster portrait: no player stamping.
	actorID := "actor-1"
	ref, err := svc.RecordCompletion(ctx, &services.MediaCompletionRequest{
		CampaignID: "camp-1",
		RefType:    models.MediaRefAvatar,
		ActorID:    &actorID,
		URL:        "https://img.example/guard.png",
		Metadata:   map[string]any{"character_slug": "gate_guard"},
	})
	require.NoError(t, err)
	assert.Nil(t, ref.PlayerID)

	player, err := repos.Players.GetByCampaignActor(ctx, "camp-1", "actor-1")
	require.NoError(t, err)
	assert.NotContains(t, player.State, "avatar_url")
}

func TestRecordCompletionUnknownPlayer(t *testing.T) {
	ctx := context.Background()
	_, svc := newMediaService(t)

	actorID := "ghost"
	ref, err := svc.RecordCompletion(ctx, &services.MediaCompletionRequest{
		CampaignID: "camp-1",
		RefType:    models.MediaRefAvatar,
		ActorID:    &actorID,
		URL:        "https://img.example/ghost.png",
	})
	require.NoError(t, err)
	assert.Nil(t, ref.PlayerID)
	assert.NotEmpty(t, ref.ID)
}

func TestRecordCompletionValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := newMediaService(t)

	cases := []struct {
		name string
		req  *services.MediaCompletionRequest
	}{
		{"missing url", &services.MediaCompletionRequest{CampaignID: "c", RefType: models.MediaRefScene}},
		{"missing campaign", &services.MediaCompletionRequest{RefType: models.MediaRefScene, URL: "u"}},
		{"bad ref type", &services.MediaCompletionRequest{CampaignID: "c", RefType: "thumbnail", URL: "u"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordCompletion(ctx, tc.req)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}
}

func TestLatestSceneRequiresRoomKey(t *testing.T) {
	ctx := context.Background()
	_, svc := newMediaService(t)

	_, err := svc.LatestScene(ctx, "camp-1", "   ")
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
}

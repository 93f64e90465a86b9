package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
)

// runTurn pushes one scripted output and resolves it, failing the test on
// anything but a clean commit.
func runTurn(t *testing.T, h *engineHarness, out *ports.LLMTurnOutput, req *services.ResolveTurnRequest) *services.ResolveTurnResult {
	t.Helper()
	h.llm.push(out, nil)
	result := h.engine.ResolveTurn(context.Background(), req)
	require.Equal(t, services.StatusOK, result.Status, "seed turn must commit: %s", result.Reason)
	// Drain the kept last step so the next push starts a fresh script.
	h.llm.mu.Lock()
	h.llm.steps = nil
	h.llm.mu.Unlock()
	return result
}

func TestRewindRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)

	first := runTurn(t, h, &ports.LLMTurnOutput{
		Narration:         "You crest the hill and see the village below.",
		StateUpdate:       map[string]any{"weather": "clear"},
		SummaryUpdate:     "Reached the village.",
		XPAwarded:         5,
		PlayerStateUpdate: map[string]any{"location": "village"},
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "walk to the village"))

	h.clock.Advance(time.Minute)
	runTurn(t, h, &ports.LLMTurnOutput{
		Narration:         "Lightning splits the tower roof.",
		StateUpdate:       map[string]any{"weather": "storm"},
		SummaryUpdate:     "The storm broke over the tower.",
		XPAwarded:         20,
		PlayerStateUpdate: map[string]any{"location": "tower"},
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "climb the tower"))

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: first.NarratorTurnID,
	})

	require.Equal(t, services.StatusOK, result.Status, result.Reason)
	assert.Equal(t, first.NarratorTurnID, result.TargetTurnID)
	assert.Equal(t, int64(2), result.DeletedTurns)

	campaign, err := h.repos.Campaigns.Get(ctx, h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "clear", campaign.State["weather"])
	assert.Equal(t, "Reached the village.", campaign.Summary)
	require.NotNil(t, campaign.LastNarration)
	assert.Equal(t, "You crest the hill and see the village below.", *campaign.LastNarration)
	require.NotNil(t, campaign.MemoryVisibleMaxTurnID)
	assert.Equal(t, first.NarratorTurnID, *campaign.MemoryVisibleMaxTurnID)
	assert.Equal(t, 4, campaign.RowVersion, "the restore itself is a versioned commit")

	player, err := h.repos.Players.GetByCampaignActor(ctx, h.campaign.ID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, 5, player.XP)
	assert.Equal(t, "village", player.State["location"])

	turns := h.recentTurns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, first.NarratorTurnID, turns[1].ID)

	_, err = h.repos.Snapshots.GetByTurn(ctx, h.campaign.ID, first.NarratorTurnID)
	assert.NoError(t, err, "the target snapshot stays")
	_, err = h.repos.Snapshots.GetByTurn(ctx, h.campaign.ID, int64(4))
	assert.Error(t, err, "snapshots beyond the target go")

	prunes := h.pendingEvents(t, models.EventMemoryPruneRequest)
	require.Len(t, prunes, 1)
	assert.Equal(t, models.OutboxSessionScopeNone, prunes[0].SessionScope)
	assert.Equal(t, h.campaign.ID, prunes[0].Payload["campaign_id"])
	assert.Equal(t, first.NarratorTurnID, prunes[0].Payload["after_turn_id"])
}

func TestRewindTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)

	first := runTurn(t, h, &ports.LLMTurnOutput{
		Narration:   "You crest the hill and see the village below.",
		StateUpdate: map[string]any{"weather": "clear"},
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "walk to the village"))

	h.clock.Advance(time.Minute)
	runTurn(t, h, &ports.LLMTurnOutput{
		Narration:   "Lightning splits the tower roof.",
		StateUpdate: map[string]any{"weather": "storm"},
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "climb the tower"))

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	req := &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: first.NarratorTurnID,
	}

	result := svc.Rewind(ctx, req)
	require.Equal(t, services.StatusOK, result.Status, result.Reason)
	result = svc.Rewind(ctx, req)
	require.Equal(t, services.StatusOK, result.Status, result.Reason)
	assert.Zero(t, result.DeletedTurns, "nothing left to delete")

	turns := h.recentTurns(t)
	require.Len(t, turns, 2)
	campaign, err := h.repos.Campaigns.Get(ctx, h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "clear", campaign.State["weather"])
	require.NotNil(t, campaign.MemoryVisibleMaxTurnID)
	assert.Equal(t, first.NarratorTurnID, *campaign.MemoryVisibleMaxTurnID)

	prunes := h.pendingEvents(t, models.EventMemoryPruneRequest)
	assert.Len(t, prunes, 1, "repeat insert of the same idempotency key is a no-op")
}

func TestRewindScopedToSessions(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	sessA := "sess-a"
	sessB := "sess-b"

	reqA := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "scout ahead")
	reqA.SessionID = &sessA
	anchor := runTurn(t, h, &ports.LLMTurnOutput{Narration: "The road forks."}, reqA)

	h.clock.Advance(time.Minute)
	reqB := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "take the left fork")
	reqB.SessionID = &sessB
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "The left path narrows."}, reqB)

	h.clock.Advance(time.Minute)
	reqA2 := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "mark the right fork")
	reqA2.SessionID = &sessA
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "You blaze the bark with your knife."}, reqA2)

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: anchor.NarratorTurnID,
		SessionIDs:   []string{sessB},
	})

	require.Equal(t, services.StatusOK, result.Status, result.Reason)
	assert.Equal(t, int64(2), result.DeletedTurns, "only the scoped session's turns go")

	turns := h.recentTurns(t)
	require.Len(t, turns, 4)
	for _, turn := range turns {
		if turn.ID <= anchor.NarratorTurnID {
			continue
		}
		require.NotNil(t, turn.SessionID)
		assert.Equal(t, sessA, *turn.SessionID, "other sessions keep their history")
	}
}

func TestRewindScopedToChannel(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	channelA := "chan-a"
	channelB := "chan-b"

	sessA, err := h.repos.Sessions.Ensure(ctx, &models.Session{
		CampaignID:       h.campaign.ID,
		Surface:          "discord",
		SurfaceKey:       "discord:guild:chan-a",
		SurfaceChannelID: &channelA,
	})
	require.NoError(t, err)
	sessB, err := h.repos.Sessions.Ensure(ctx, &models.Session{
		CampaignID:       h.campaign.ID,
		Surface:          "discord",
		SurfaceKey:       "discord:guild:chan-b",
		SurfaceChannelID: &channelB,
	})
	require.NoError(t, err)

	reqA := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "scout ahead")
	reqA.SessionID = &sessA.ID
	anchor := runTurn(t, h, &ports.LLMTurnOutput{Narration: "The road forks."}, reqA)

	h.clock.Advance(time.Minute)
	reqB := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "take the left fork")
	reqB.SessionID = &sessB.ID
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "The left path narrows."}, reqB)

	h.clock.Advance(time.Minute)
	reqA2 := services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "mark the right fork")
	reqA2.SessionID = &sessA.ID
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "You blaze the bark."}, reqA2)

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: anchor.NarratorTurnID,
		ChannelID:    &channelB,
	})

	require.Equal(t, services.StatusOK, result.Status, result.Reason)
	assert.Equal(t, int64(2), result.DeletedTurns, "only the channel's turns go")

	turns := h.recentTurns(t)
	require.Len(t, turns, 4)
	for _, turn := range turns {
		if turn.ID <= anchor.NarratorTurnID {
			continue
		}
		require.NotNil(t, turn.SessionID)
		assert.Equal(t, sessA.ID, *turn.SessionID, "the other channel keeps its history")
	}
}

func TestRewindChannelWithoutSessions(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	anchor := runTurn(t, h, &ports.LLMTurnOutput{Narration: "The road forks."},
		services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "walk"))

	unknown := "chan-unknown"
	svc := NewRewindService(h.repos, h.tx, discardLogger())
	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: anchor.NarratorTurnID,
		ChannelID:    &unknown,
	})

	assert.Equal(t, services.StatusError, result.Status)
	assert.Equal(t, services.RewindChannelNotFound, result.Reason)
	assert.Len(t, h.recentTurns(t), 2, "an unknown channel deletes nothing")
}

func TestRewindCampaignNotFound(t *testing.T) {
	h := newEngineHarness(t, nil)
	svc := NewRewindService(h.repos, h.tx, discardLogger())

	result := svc.Rewind(context.Background(), &services.RewindRequest{
		CampaignID:   "missing",
		TargetTurnID: 1,
	})

	assert.Equal(t, services.StatusError, result.Status)
	assert.Equal(t, services.RewindCampaignNotFound, result.Reason)
}

func TestRewindSnapshotNotFound(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "The road forks."},
		services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "walk"))

	// A second campaign with its own narrator turn; its snapshot ids must
	// be invisible to the first campaign.
	other := &models.Campaign{
		Namespace:      "test",
		Name:           "Other",
		NameNormalized: "other",
		State:          map[string]any{},
		Characters:     map[string]any{},
	}
	require.NoError(t, h.repos.Campaigns.Create(ctx, other))
	foreign := runTurn(t, h, &ports.LLMTurnOutput{Narration: "Elsewhere, rain falls."},
		services.NewResolveTurnRequest(other.ID, "actor-2", "listen"))

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	for _, target := range []int64{99, foreign.NarratorTurnID} {
		result := svc.Rewind(ctx, &services.RewindRequest{
			CampaignID:   h.campaign.ID,
			TargetTurnID: target,
		})
		assert.Equal(t, services.StatusError, result.Status)
		assert.Equal(t, services.RewindSnapshotNotFound, result.Reason)
	}
	assert.Len(t, h.recentTurns(t), 2, "a refused rewind deletes nothing")
}

// casDenyingCampaigns forces the restore CAS to report a lost race.
type casDenyingCampaigns struct {
	repositories.CampaignRepository
}

func (c *casDenyingCampaigns) CASApplyUpdate(ctx context.Context, upd *repositories.CampaignCASUpdate) (bool, error) {
	return false, nil
}

func TestRewindRowVersionConflict(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)
	runTurn(t, h, &ports.LLMTurnOutput{Narration: "The road forks."},
		services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "walk"))

	denied := *h.repos
	denied.Campaigns = &casDenyingCampaigns{h.repos.Campaigns}
	svc := NewRewindService(&denied, h.tx, discardLogger())

	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: 2,
	})

	assert.Equal(t, services.StatusConflict, result.Status)
	assert.Equal(t, services.RewindRowVersionConflict, result.Reason)
	assert.Len(t, h.recentTurns(t), 2, "a lost race deletes nothing")
	_, err := h.repos.Snapshots.GetByTurn(ctx, h.campaign.ID, 2)
	assert.NoError(t, err)
}

func TestRewindSkipsPlayersJoinedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, nil)

	anchor := runTurn(t, h, &ports.LLMTurnOutput{
		Narration: "You set camp by the river.",
		XPAwarded: 5,
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-1", "set camp"))

	// A second actor joins afterwards and plays a turn.
	h.clock.Advance(time.Minute)
	runTurn(t, h, &ports.LLMTurnOutput{
		Narration: "A newcomer steps into the firelight.",
		XPAwarded: 3,
	}, services.NewResolveTurnRequest(h.campaign.ID, "actor-2", "join the camp"))

	svc := NewRewindService(h.repos, h.tx, discardLogger())
	result := svc.Rewind(ctx, &services.RewindRequest{
		CampaignID:   h.campaign.ID,
		TargetTurnID: anchor.NarratorTurnID,
	})
	require.Equal(t, services.StatusOK, result.Status, result.Reason)

	restored, err := h.repos.Players.GetByCampaignActor(ctx, h.campaign.ID, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, 5, restored.XP)

	// The latecomer has no entry in the snapshot and keeps their row.
	newcomer, err := h.repos.Players.GetByCampaignActor(ctx, h.campaign.ID, "actor-2")
	require.NoError(t, err)
	assert.Equal(t, 3, newcomer.XP)
}

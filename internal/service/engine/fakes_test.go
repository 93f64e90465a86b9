package engine

// In-memory repository fakes for the service tests. Loads and lists hand
// out deep copies, matching the row-scan behavior of the real
// repositories, and the fake transaction manager restores a full store
// snapshot when the closure errors so rollback semantics hold.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ===========================================================================
// Store
// ===========================================================================

type memStore struct {
	mu    sync.Mutex
	clock func() time.Time

	campaigns map[string]*models.Campaign
	actors    map[string]*models.Actor
	refs      map[string]string // provider|externalID -> actor id
	players   map[string]*models.Player
	turns     []*models.Turn
	turnSeq   int64
	snapshots map[string]*models.Snapshot
	claims    map[string]*models.InflightTurn
	timers    map[string]*models.Timer
	outbox    []*models.OutboxEvent
	sessions  map[string]*models.Session // by surface key
	media     []*models.MediaRef
}

func newMemStore(clock func() time.Time) *memStore {
	if clock == nil {
		clock = time.Now
	}
	return &memStore{
		clock:     clock,
		campaigns: map[string]*models.Campaign{},
		actors:    map[string]*models.Actor{},
		refs:      map[string]string{},
		players:   map[string]*models.Player{},
		snapshots: map[string]*models.Snapshot{},
		claims:    map[string]*models.InflightTurn{},
		timers:    map[string]*models.Timer{},
		sessions:  map[string]*models.Session{},
	}
}

func (m *memStore) repos() *repositories.Store {
	return &repositories.Store{
		Campaigns: &memCampaigns{m},
		Actors:    &memActors{m},
		Players:   &memPlayers{m},
		Turns:     &memTurns{m},
		Snapshots: &memSnapshots{m},
		Timers:    &memTimers{m},
		Inflight:  &memInflight{m},
		Outbox:    &memOutbox{m},
		Sessions:  &memSessions{m},
		Media:     &memMedia{m},
	}
}

func (m *memStore) wallNow() time.Time {
	return m.clock().UTC()
}

func pairKey(campaignID, actorID string) string {
	return campaignID + "|" + actorID
}

func snapKey(campaignID string, turnID int64) string {
	return fmt.Sprintf("%s|%d", campaignID, turnID)
}

// memState is the rollback unit of the fake transaction manager.
type memState struct {
	campaigns map[string]*models.Campaign
	actors    map[string]*models.Actor
	refs      map[string]string
	players   map[string]*models.Player
	turns     []*models.Turn
	turnSeq   int64
	snapshots map[string]*models.Snapshot
	claims    map[string]*models.InflightTurn
	timers    map[string]*models.Timer
	outbox    []*models.OutboxEvent
	sessions  map[string]*models.Session
	media     []*models.MediaRef
}

func (m *memStore) snapshotState() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memState{
		campaigns: make(map[string]*models.Campaign, len(m.campaigns)),
		actors:    make(map[string]*models.Actor, len(m.actors)),
		refs:      make(map[string]string, len(m.refs)),
		players:   make(map[string]*models.Player, len(m.players)),
		turns:     make([]*models.Turn, 0, len(m.turns)),
		turnSeq:   m.turnSeq,
		snapshots: make(map[string]*models.Snapshot, len(m.snapshots)),
		claims:    make(map[string]*models.InflightTurn, len(m.claims)),
		timers:    make(map[string]*models.Timer, len(m.timers)),
		outbox:    make([]*models.OutboxEvent, 0, len(m.outbox)),
		sessions:  make(map[string]*models.Session, len(m.sessions)),
		media:     make([]*models.MediaRef, 0, len(m.media)),
	}
	for k, v := range m.campaigns {
		s.campaigns[k] = copyCampaign(v)
	}
	for k, v := range m.actors {
		s.actors[k] = copyActor(v)
	}
	for k, v := range m.refs {
		s.refs[k] = v
	}
	for k, v := range m.players {
		s.players[k] = copyPlayer(v)
	}
	for _, t := range m.turns {
		s.turns = append(s.turns, copyTurn(t))
	}
	for k, v := range m.snapshots {
		s.snapshots[k] = copySnapshot(v)
	}
	for k, v := range m.claims {
		cp := *v
		s.claims[k] = &cp
	}
	for k, v := range m.timers {
		s.timers[k] = copyTimer(v)
	}
	for _, e := range m.outbox {
		s.outbox = append(s.outbox, copyOutboxEvent(e))
	}
	for k, v := range m.sessions {
		s.sessions[k] = copySession(v)
	}
	for _, r := range m.media {
		s.media = append(s.media, copyMediaRef(r))
	}
	return s
}

func (m *memStore) restoreState(s *memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns = s.campaigns
	m.actors = s.actors
	m.refs = s.refs
	m.players = s.players
	m.turns = s.turns
	m.turnSeq = s.turnSeq
	m.snapshots = s.snapshots
	m.claims = s.claims
	m.timers = s.timers
	m.outbox = s.outbox
	m.sessions = s.sessions
	m.media = s.media
}

// memTxManager runs the closure against the shared store and rolls the
// whole store back when it errors, like a real transaction would.
type memTxManager struct {
	store *memStore
}

func (m *memTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	backup := m.store.snapshotState()
	if err := fn(ctx); err != nil {
		m.store.restoreState(backup)
		return err
	}
	return nil
}

// ===========================================================================
// Copy helpers
// ===========================================================================

func copyStrPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt64Ptr(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.CreatedByActorID = copyStrPtr(c.CreatedByActorID)
	cp.State = deepCopyMap(c.State)
	cp.Characters = deepCopyMap(c.Characters)
	cp.LastNarration = copyStrPtr(c.LastNarration)
	cp.MemoryVisibleMaxTurnID = copyInt64Ptr(c.MemoryVisibleMaxTurnID)
	return &cp
}

func copyActor(a *models.Actor) *models.Actor {
	cp := *a
	cp.DisplayName = copyStrPtr(a.DisplayName)
	cp.Metadata = deepCopyMap(a.Metadata)
	return &cp
}

func copyPlayer(p *models.Player) *models.Player {
	cp := *p
	cp.Attributes = deepCopyMap(p.Attributes)
	cp.State = deepCopyMap(p.State)
	cp.LastActiveAt = copyTimePtr(p.LastActiveAt)
	return &cp
}

func copyTurn(t *models.Turn) *models.Turn {
	cp := *t
	cp.SessionID = copyStrPtr(t.SessionID)
	cp.ActorID = copyStrPtr(t.ActorID)
	cp.Meta = deepCopyMap(t.Meta)
	cp.ExternalMessageID = copyStrPtr(t.ExternalMessageID)
	cp.ExternalUserMessageID = copyStrPtr(t.ExternalUserMessageID)
	return &cp
}

func copySnapshot(s *models.Snapshot) *models.Snapshot {
	cp := *s
	cp.CampaignState = deepCopyMap(s.CampaignState)
	cp.CampaignCharacters = deepCopyMap(s.CampaignCharacters)
	cp.CampaignNarration = copyStrPtr(s.CampaignNarration)
	cp.Players = deepCopyMap(s.Players)
	return &cp
}

func copyTimer(t *models.Timer) *models.Timer {
	cp := *t
	cp.SessionID = copyStrPtr(t.SessionID)
	cp.InterruptAction = copyStrPtr(t.InterruptAction)
	cp.FiredAt = copyTimePtr(t.FiredAt)
	cp.CancelledAt = copyTimePtr(t.CancelledAt)
	cp.ExternalMessageID = copyStrPtr(t.ExternalMessageID)
	cp.ExternalChannelID = copyStrPtr(t.ExternalChannelID)
	cp.ExternalThreadID = copyStrPtr(t.ExternalThreadID)
	cp.Meta = deepCopyMap(t.Meta)
	return &cp
}

func copyOutboxEvent(e *models.OutboxEvent) *models.OutboxEvent {
	cp := *e
	cp.SessionID = copyStrPtr(e.SessionID)
	cp.Payload = deepCopyMap(e.Payload)
	cp.NextAttemptAt = copyTimePtr(e.NextAttemptAt)
	return &cp
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.SurfaceGuildID = copyStrPtr(s.SurfaceGuildID)
	cp.SurfaceChannelID = copyStrPtr(s.SurfaceChannelID)
	cp.SurfaceThreadID = copyStrPtr(s.SurfaceThreadID)
	cp.Metadata = deepCopyMap(s.Metadata)
	return &cp
}

func copyMediaRef(r *models.MediaRef) *models.MediaRef {
	cp := *r
	cp.PlayerID = copyStrPtr(r.PlayerID)
	cp.RoomKey = copyStrPtr(r.RoomKey)
	cp.Prompt = copyStrPtr(r.Prompt)
	cp.Metadata = deepCopyMap(r.Metadata)
	return &cp
}

// ===========================================================================
// Campaign repository
// ===========================================================================

type memCampaigns struct{ s *memStore }

func (r *memCampaigns) Create(ctx context.Context, campaign *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.campaigns {
		if existing.Namespace == campaign.Namespace && existing.NameNormalized == campaign.NameNormalized {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("campaign '%s' already exists in namespace '%s'", campaign.NameNormalized, campaign.Namespace),
				ResourceType: "campaign",
				ResourceID:   campaign.NameNormalized,
			}
		}
	}
	now := r.s.wallNow()
	campaign.ID = uuid.NewString()
	campaign.RowVersion = 1
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	r.s.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (r *memCampaigns) Get(ctx context.Context, id string) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	return copyCampaign(c), nil
}

func (r *memCampaigns) GetByName(ctx context.Context, namespace, nameNormalized string) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.campaigns {
		if c.Namespace == namespace && c.NameNormalized == nameNormalized {
			return copyCampaign(c), nil
		}
	}
	return nil, fmt.Errorf("campaign '%s' in namespace '%s': %w", nameNormalized, namespace, domain.ErrNotFound)
}

func (r *memCampaigns) ListByNamespace(ctx context.Context, namespace string) ([]models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Campaign
	for _, c := range r.s.campaigns {
		if c.Namespace == namespace {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memCampaigns) CASApplyUpdate(ctx context.Context, upd *repositories.CampaignCASUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[upd.CampaignID]
	if !ok || c.RowVersion != upd.ExpectedRowVersion {
		return false, nil
	}
	c.Summary = upd.Summary
	c.State = deepCopyMap(upd.State)
	c.Characters = deepCopyMap(upd.Characters)
	c.LastNarration = copyStrPtr(upd.LastNarration)
	c.MemoryVisibleMaxTurnID = copyInt64Ptr(upd.MemoryVisibleMaxTurnID)
	c.RowVersion++
	c.UpdatedAt = upd.Now
	return true, nil
}

func (r *memCampaigns) UpdateState(ctx context.Context, id string, state map[string]any, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.State = deepCopyMap(state)
	c.UpdatedAt = now
	return nil
}

// ===========================================================================
// Actor repository
// ===========================================================================

type memActors struct{ s *memStore }

func (r *memActors) Create(ctx context.Context, actor *models.Actor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.wallNow()
	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}
	actor.CreatedAt = now
	actor.UpdatedAt = now
	r.s.actors[actor.ID] = copyActor(actor)
	return nil
}

func (r *memActors) Get(ctx context.Context, id string) (*models.Actor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.actors[id]
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", id, domain.ErrNotFound)
	}
	return copyActor(a), nil
}

func (r *memActors) EnsureByExternalRef(ctx context.Context, provider, externalID, displayName string) (*models.Actor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := provider + "|" + externalID
	if actorID, ok := r.s.refs[key]; ok {
		return copyActor(r.s.actors[actorID]), nil
	}
	now := r.s.wallNow()
	actor := &models.Actor{
		ID:        uuid.NewString(),
		Kind:      models.ActorKindHuman,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if displayName != "" {
		actor.DisplayName = &displayName
	}
	r.s.actors[actor.ID] = actor
	r.s.refs[key] = actor.ID
	return copyActor(actor), nil
}

func (r *memActors) ResolveExternalRef(ctx context.Context, provider, externalID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if actorID, ok := r.s.refs[provider+"|"+externalID]; ok {
		return actorID, nil
	}
	return "", fmt.Errorf("external ref %s/%s: %w", provider, externalID, domain.ErrNotFound)
}

// ===========================================================================
// Player repository
// ===========================================================================

type memPlayers struct{ s *memStore }

func (r *memPlayers) Ensure(ctx context.Context, campaignID, actorID string) (*models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pairKey(campaignID, actorID)
	if p, ok := r.s.players[key]; ok {
		return copyPlayer(p), nil
	}
	now := r.s.wallNow()
	p := &models.Player{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		ActorID:    actorID,
		Level:      1,
		XP:         0,
		Attributes: map[string]any{},
		State:      map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.s.players[key] = p
	return copyPlayer(p), nil
}

func (r *memPlayers) GetByCampaignActor(ctx context.Context, campaignID, actorID string) (*models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.players[pairKey(campaignID, actorID)]
	if !ok {
		return nil, fmt.Errorf("player %s in campaign %s: %w", actorID, campaignID, domain.ErrNotFound)
	}
	return copyPlayer(p), nil
}

func (r *memPlayers) ListByCampaign(ctx context.Context, campaignID string) ([]models.Player, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Player
	for _, p := range r.s.players {
		if p.CampaignID == campaignID {
			out = append(out, *copyPlayer(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ActorID < out[j].ActorID
	})
	return out, nil
}

func (r *memPlayers) Update(ctx context.Context, player *models.Player) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.players[pairKey(player.CampaignID, player.ActorID)]
	if !ok {
		return fmt.Errorf("player %s: %w", player.ID, domain.ErrNotFound)
	}
	stored.Level = player.Level
	stored.XP = player.XP
	stored.Attributes = deepCopyMap(player.Attributes)
	stored.State = deepCopyMap(player.State)
	stored.LastActiveAt = copyTimePtr(player.LastActiveAt)
	stored.UpdatedAt = player.UpdatedAt
	return nil
}

// ===========================================================================
// Turn repository
// ===========================================================================

type memTurns struct{ s *memStore }

func (r *memTurns) Append(ctx context.Context, turn *models.Turn) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.turnSeq++
	turn.ID = r.s.turnSeq
	turn.CreatedAt = r.s.wallNow()
	r.s.turns = append(r.s.turns, copyTurn(turn))
	return nil
}

func (r *memTurns) Recent(ctx context.Context, campaignID string, limit int) ([]models.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*models.Turn
	for _, t := range r.s.turns {
		if t.CampaignID == campaignID {
			matched = append(matched, t)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]models.Turn, 0, len(matched))
	for _, t := range matched {
		out = append(out, *copyTurn(t))
	}
	return out, nil
}

func (r *memTurns) Latest(ctx context.Context, campaignID string) (*models.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.turns) - 1; i >= 0; i-- {
		if r.s.turns[i].CampaignID == campaignID {
			return copyTurn(r.s.turns[i]), nil
		}
	}
	return nil, fmt.Errorf("latest turn of campaign %s: %w", campaignID, domain.ErrNotFound)
}

func (r *memTurns) DeleteAfter(ctx context.Context, campaignID string, afterTurnID int64, sessionIDs []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	scoped := map[string]bool{}
	for _, id := range sessionIDs {
		scoped[id] = true
	}
	var kept []*models.Turn
	var deleted int64
	for _, t := range r.s.turns {
		doomed := t.CampaignID == campaignID && t.ID > afterTurnID
		if doomed && len(scoped) > 0 {
			doomed = t.SessionID != nil && scoped[*t.SessionID]
		}
		if doomed {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	r.s.turns = kept
	return deleted, nil
}

func (r *memTurns) SetExternalRefs(ctx context.Context, turnID int64, messageID, userMessageID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.turns {
		if t.ID == turnID {
			t.ExternalMessageID = copyStrPtr(messageID)
			t.ExternalUserMessageID = copyStrPtr(userMessageID)
			return nil
		}
	}
	return fmt.Errorf("turn %d: %w", turnID, domain.ErrNotFound)
}

// ===========================================================================
// Snapshot repository
// ===========================================================================

type memSnapshots struct{ s *memStore }

func (r *memSnapshots) Add(ctx context.Context, snapshot *models.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := snapKey(snapshot.CampaignID, snapshot.TurnID)
	if _, ok := r.s.snapshots[key]; ok {
		return nil
	}
	snapshot.ID = uuid.NewString()
	snapshot.CreatedAt = r.s.wallNow()
	r.s.snapshots[key] = copySnapshot(snapshot)
	return nil
}

func (r *memSnapshots) GetByTurn(ctx context.Context, campaignID string, turnID int64) (*models.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.snapshots[snapKey(campaignID, turnID)]
	if !ok {
		return nil, fmt.Errorf("snapshot for turn %d in campaign %s: %w", turnID, campaignID, domain.ErrNotFound)
	}
	return copySnapshot(snap), nil
}

func (r *memSnapshots) DeleteAfterTurn(ctx context.Context, campaignID string, afterTurnID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var deleted int64
	for key, snap := range r.s.snapshots {
		if snap.CampaignID == campaignID && snap.TurnID > afterTurnID {
			delete(r.s.snapshots, key)
			deleted++
		}
	}
	return deleted, nil
}

// ===========================================================================
// Inflight repository
// ===========================================================================

type memInflight struct{ s *memStore }

func (r *memInflight) AcquireOrSteal(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pairKey(campaignID, actorID)
	if existing, ok := r.s.claims[key]; ok && !existing.ExpiresAt.Before(now) {
		return false, nil
	}
	r.s.claims[key] = &models.InflightTurn{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		ActorID:     actorID,
		ClaimToken:  claimToken,
		ClaimedAt:   now,
		HeartbeatAt: now,
		ExpiresAt:   expiresAt,
	}
	return true, nil
}

func (r *memInflight) ValidateToken(ctx context.Context, campaignID, actorID, claimToken string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[pairKey(campaignID, actorID)]
	return ok && c.ClaimToken == claimToken && !c.ExpiresAt.Before(now), nil
}

func (r *memInflight) Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.claims[pairKey(campaignID, actorID)]
	if !ok || c.ClaimToken != claimToken {
		return false, nil
	}
	c.HeartbeatAt = now
	c.ExpiresAt = expiresAt
	return true, nil
}

func (r *memInflight) Release(ctx context.Context, campaignID, actorID, claimToken string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pairKey(campaignID, actorID)
	c, ok := r.s.claims[key]
	if !ok || c.ClaimToken != claimToken {
		return 0, nil
	}
	delete(r.s.claims, key)
	return 1, nil
}

// ===========================================================================
// Timer repository
// ===========================================================================

type memTimers struct{ s *memStore }

func (r *memTimers) Schedule(ctx context.Context, timer *models.Timer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.timers {
		if t.CampaignID == timer.CampaignID && t.Active() {
			return fmt.Errorf("campaign %s already has an active timer", timer.CampaignID)
		}
	}
	now := r.s.wallNow()
	timer.ID = uuid.NewString()
	timer.CreatedAt = now
	timer.UpdatedAt = now
	r.s.timers[timer.ID] = copyTimer(timer)
	return nil
}

func (r *memTimers) GetActive(ctx context.Context, campaignID string) (*models.Timer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.timers {
		if t.CampaignID == campaignID && t.Active() {
			return copyTimer(t), nil
		}
	}
	return nil, fmt.Errorf("active timer of campaign %s: %w", campaignID, domain.ErrNotFound)
}

func (r *memTimers) ListActive(ctx context.Context) ([]models.Timer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Timer
	for _, t := range r.s.timers {
		if t.Active() {
			out = append(out, *copyTimer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memTimers) Get(ctx context.Context, id string) (*models.Timer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.timers[id]
	if !ok {
		return nil, fmt.Errorf("timer %s: %w", id, domain.ErrNotFound)
	}
	return copyTimer(t), nil
}

func (r *memTimers) AttachMessage(ctx context.Context, id, messageID, channelID string, threadID *string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.timers[id]
	if !ok || !t.Active() {
		return false, nil
	}
	t.ExternalMessageID = &messageID
	t.ExternalChannelID = &channelID
	t.ExternalThreadID = copyStrPtr(threadID)
	t.Status = models.TimerStatusScheduledBound
	t.UpdatedAt = now
	return true, nil
}

func (r *memTimers) CancelActive(ctx context.Context, campaignID string, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var moved int64
	for _, t := range r.s.timers {
		if t.CampaignID == campaignID && t.Active() {
			t.Status = models.TimerStatusCancelled
			t.CancelledAt = copyTimePtr(&now)
			t.UpdatedAt = now
			moved++
		}
	}
	return moved, nil
}

func (r *memTimers) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.timers[id]
	if !ok || !t.Active() {
		return false, nil
	}
	t.Status = models.TimerStatusExpired
	t.FiredAt = copyTimePtr(&now)
	t.UpdatedAt = now
	return true, nil
}

func (r *memTimers) MarkConsumed(ctx context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.timers[id]
	if !ok || t.Status != models.TimerStatusExpired {
		return false, nil
	}
	t.Status = models.TimerStatusConsumed
	t.UpdatedAt = now
	return true, nil
}

// ===========================================================================
// Outbox repository
// ===========================================================================

type memOutbox struct{ s *memStore }

func (r *memOutbox) Add(ctx context.Context, event *models.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	scope := event.SessionScope
	if scope == "" {
		if event.SessionID != nil {
			scope = *event.SessionID
		} else {
			scope = models.OutboxSessionScopeNone
		}
	}
	for _, e := range r.s.outbox {
		if e.CampaignID == event.CampaignID && e.SessionScope == scope &&
			e.EventType == event.EventType && e.IdempotencyKey == event.IdempotencyKey {
			return nil
		}
	}
	now := r.s.wallNow()
	event.ID = uuid.NewString()
	event.SessionScope = scope
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.Status == "" {
		event.Status = models.OutboxStatusPending
	}
	event.CreatedAt = now
	event.UpdatedAt = now
	r.s.outbox = append(r.s.outbox, copyOutboxEvent(event))
	return nil
}

func (r *memOutbox) ListDue(ctx context.Context, eventTypes []string, now time.Time, limit int) ([]models.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := map[string]bool{}
	for _, t := range eventTypes {
		wanted[t] = true
	}
	var out []models.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != models.OutboxStatusPending || !wanted[e.EventType] {
			continue
		}
		if e.NextAttemptAt != nil && e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *copyOutboxEvent(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memOutbox) MarkDispatched(ctx context.Context, id string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.outbox {
		if e.ID == id {
			e.Status = models.OutboxStatusDispatched
			e.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
}

func (r *memOutbox) RecordFailure(ctx context.Context, id string, nextAttemptAt *time.Time, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.outbox {
		if e.ID == id {
			e.Attempts++
			if nextAttemptAt == nil {
				e.Status = models.OutboxStatusFailed
				e.NextAttemptAt = nil
			} else {
				e.NextAttemptAt = copyTimePtr(nextAttemptAt)
			}
			e.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("outbox event %s: %w", id, domain.ErrNotFound)
}

// ===========================================================================
// Session repository
// ===========================================================================

type memSessions struct{ s *memStore }

func (r *memSessions) Ensure(ctx context.Context, session *models.Session) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.sessions[session.SurfaceKey]; ok {
		existing.UpdatedAt = r.s.wallNow()
		return copySession(existing), nil
	}
	now := r.s.wallNow()
	stored := copySession(session)
	stored.ID = uuid.NewString()
	stored.Enabled = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	r.s.sessions[stored.SurfaceKey] = stored
	return copySession(stored), nil
}

func (r *memSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.sessions {
		if s.ID == id {
			return copySession(s), nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
}

func (r *memSessions) GetBySurfaceKey(ctx context.Context, surfaceKey string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[surfaceKey]
	if !ok {
		return nil, fmt.Errorf("session for surface %s: %w", surfaceKey, domain.ErrNotFound)
	}
	return copySession(s), nil
}

func (r *memSessions) ListIDsByChannel(ctx context.Context, campaignID, channelID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for _, s := range r.s.sessions {
		if s.CampaignID != campaignID {
			continue
		}
		if (s.SurfaceChannelID != nil && *s.SurfaceChannelID == channelID) ||
			(s.SurfaceThreadID != nil && *s.SurfaceThreadID == channelID) {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ===========================================================================
// Media repository
// ===========================================================================

type memMedia struct{ s *memStore }

func (r *memMedia) Record(ctx context.Context, ref *models.MediaRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.wallNow()
	ref.ID = uuid.NewString()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	r.s.media = append(r.s.media, copyMediaRef(ref))
	return nil
}

func (r *memMedia) LatestSceneForRoom(ctx context.Context, campaignID, roomKey string) (*models.MediaRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.media) - 1; i >= 0; i-- {
		ref := r.s.media[i]
		if ref.CampaignID == campaignID && ref.RefType == models.MediaRefScene &&
			ref.RoomKey != nil && *ref.RoomKey == roomKey {
			return copyMediaRef(ref), nil
		}
	}
	return nil, fmt.Errorf("scene ref for room %s: %w", roomKey, domain.ErrNotFound)
}

// ===========================================================================
// Port fakes
// ===========================================================================

type llmStep struct {
	out *ports.LLMTurnOutput
	err error
}

// scriptedLLM pops one step per CompleteTurn call; an exhausted script
// keeps returning the last step. Every received TurnContext is recorded.
type scriptedLLM struct {
	mu    sync.Mutex
	steps []llmStep
	calls int
	ctxs  []*ports.TurnContext
}

func (s *scriptedLLM) push(out *ports.LLMTurnOutput, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, llmStep{out: out, err: err})
}

func (s *scriptedLLM) CompleteTurn(ctx context.Context, turnCtx *ports.TurnContext) (*ports.LLMTurnOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ctxs = append(s.ctxs, turnCtx)
	if len(s.steps) == 0 {
		return &ports.LLMTurnOutput{Narration: "Nothing happens."}, nil
	}
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return step.out, step.err
}

type staticResolver struct {
	mentions map[string]string
}

func (r *staticResolver) ResolveDiscordMention(ctx context.Context, mention string) (string, error) {
	if r == nil || r.mentions == nil {
		return "", nil
	}
	return r.mentions[mention], nil
}

type recordingMedia struct {
	mu        sync.Mutex
	available bool
	scenes    []*ports.SceneGenerationRequest
	avatars   []*ports.AvatarGenerationRequest
}

func (m *recordingMedia) GPUWorkerAvailable(ctx context.Context) bool {
	return m.available
}

func (m *recordingMedia) EnqueueSceneGeneration(ctx context.Context, req *ports.SceneGenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes = append(m.scenes, req)
	return nil
}

func (m *recordingMedia) EnqueueAvatarGeneration(ctx context.Context, req *ports.AvatarGenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avatars = append(m.avatars, req)
	return nil
}

type timerEdit struct {
	channelID string
	messageID string
	line      string
}

type recordingEffects struct {
	mu     sync.Mutex
	edits  []timerEdit
	events []string
}

func (e *recordingEffects) EditTimerLine(ctx context.Context, channelID, messageID, line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edits = append(e.edits, timerEdit{channelID: channelID, messageID: messageID, line: line})
	return nil
}

func (e *recordingEffects) EmitTimedEvent(ctx context.Context, campaignID, channelID, actorID, narration string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, narration)
	return nil
}

type fakeMemorySearch struct {
	hits         []ports.MemoryHit
	deletedAfter []int64
}

func (f *fakeMemorySearch) Search(ctx context.Context, campaignID, query string, limit int) ([]ports.MemoryHit, error) {
	return f.hits, nil
}

func (f *fakeMemorySearch) DeleteTurnsAfter(ctx context.Context, campaignID string, afterTurnID int64) error {
	f.deletedAfter = append(f.deletedAfter, afterTurnID)
	return nil
}

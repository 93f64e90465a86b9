package models

import (
	"time"
)

// InflightTurn is the lease marking one (campaign, actor) pair as having
// a turn in flight. The row is unique per pair; the claim token is the
// safety check that makes a stolen lease unable to commit late.
type InflightTurn struct {
	ID          string    `json:"id" db:"id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	ActorID     string    `json:"actor_id" db:"actor_id"`
	ClaimToken  string    `json:"claim_token" db:"claim_token"`
	ClaimedAt   time.Time `json:"claimed_at" db:"claimed_at"`
	HeartbeatAt time.Time `json:"heartbeat_at" db:"heartbeat_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}

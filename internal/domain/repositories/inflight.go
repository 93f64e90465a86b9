package repositories

import (
	"context"
	"time"
)

// InflightRepository is the lease table behind turn admission. One row
// per (campaign, actor); the claim token distinguishes the current
// holder from a stalled predecessor whose lease was stolen.
type InflightRepository interface {
	// AcquireOrSteal inserts a fresh lease, or, when the pair already
	// holds one, overwrites it only if it has expired. Returns whether
	// the caller now holds the lease.
	AcquireOrSteal(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error)

	// ValidateToken reports whether the pair's lease exists, carries
	// this token, and has not expired.
	ValidateToken(ctx context.Context, campaignID, actorID, claimToken string, now time.Time) (bool, error)

	// Heartbeat extends the lease, conditional on the token.
	Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, now, expiresAt time.Time) (bool, error)

	// Release deletes the lease, conditional on the token, returning the
	// number of rows removed (0 when already stolen or released).
	Release(ctx context.Context, campaignID, actorID, claimToken string) (int64, error)
}

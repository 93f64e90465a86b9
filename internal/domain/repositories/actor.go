package repositories

import (
	"context"

	"fabula/internal/domain/models"
)

// ActorRepository persists actor identities and their external refs.
type ActorRepository interface {
	Create(ctx context.Context, actor *models.Actor) error
	Get(ctx context.Context, id string) (*models.Actor, error)

	// EnsureByExternalRef returns the actor bound to (provider,
	// externalID), creating both the actor and the ref when absent.
	EnsureByExternalRef(ctx context.Context, provider, externalID, displayName string) (*models.Actor, error)

	// ResolveExternalRef returns the actor id bound to (provider,
	// externalID) or ErrNotFound.
	ResolveExternalRef(ctx context.Context, provider, externalID string) (string, error)
}

package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"fabula/internal/domain"
	"fabula/internal/domain/models"
	"fabula/internal/domain/ports"
	"fabula/internal/domain/repositories"
)

var mentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)

// resolver maps surface mentions to actor ids through the external-ref
// table.
type resolver struct {
	store  *repositories.Store
	logger *slog.Logger
}

// NewResolver returns a repository-backed ActorResolverPort.
func NewResolver(store *repositories.Store, logger *slog.Logger) ports.ActorResolverPort {
	return &resolver{store: store, logger: logger}
}

// ResolveDiscordMention extracts the user id from a "<@123>" or "<@!123>"
// mention and looks the actor up. An unknown user or malformed mention
// resolves to the empty string; only infrastructure failures error.
func (r *resolver) ResolveDiscordMention(ctx context.Context, mention string) (string, error) {
	match := mentionPattern.FindStringSubmatch(strings.TrimSpace(mention))
	if match == nil {
		return "", nil
	}
	actorID, err := r.store.Actors.ResolveExternalRef(ctx, models.ProviderDiscord, match[1])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolve mention: %w", err)
	}
	return actorID, nil
}

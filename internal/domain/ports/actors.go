package ports

import (
	"context"
)

// ActorResolverPort maps a surface mention (e.g. "<@123456>") to an actor
// id. Returns empty string when the mention cannot be resolved; the engine
// treats that as a non-fatal unresolved target.
type ActorResolverPort interface {
	ResolveDiscordMention(ctx context.Context, mention string) (string, error)
}

package tariff

import "context"

type actorKey struct{}

// WithActor attaches the acting identity to ctx.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the acting identity, or SystemActor if none is set.
func ActorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return SystemActor
}

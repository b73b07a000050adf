package services

import "context"

type actorKey struct{}

// WithActor returns a context carrying the id of whoever performs the
// following actions. History entries written under it record the actor.
func WithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor id stored by WithActor, if any
func ActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}

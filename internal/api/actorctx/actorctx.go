// Package actorctx carries the identity of whoever made an admin request.
package actorctx

import "context"

type ctxKeyActor struct{}

const DefaultActor = "anonymous"

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor{}, actor)
}

func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor{}).(string); ok && v != "" {
		return v
	}
	return DefaultActor
}

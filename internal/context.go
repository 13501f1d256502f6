package internal

import (
	"context"
	"time"
)

type ctxKey string

const (
	ContextActorKey       ctxKey = "actor"
	ContextPermissionsKey ctxKey = "permissions"
)

// ActorFromContext returns the authenticated operator subject, or "" for anonymous calls.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if actor, ok := ctx.Value(ContextActorKey).(string); ok {
		return actor
	}
	return ""
}

func ContextWithActor(ctx context.Context, actor string, permissions []string) context.Context {
	ctx = context.WithValue(ctx, ContextActorKey, actor)
	return context.WithValue(ctx, ContextPermissionsKey, permissions)
}

func PermissionsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if perms, ok := ctx.Value(ContextPermissionsKey).([]string); ok {
		return perms
	}
	return nil
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}

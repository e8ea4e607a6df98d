package usecase

import (
	"context"

	"estate-assistant/internal/observability"
)

type ownerLoggerKey struct{}

// withOwnerLogger scopes the context logger to ownerID. Nested calls for the
// same owner keep the existing logger so owner_id appears once per line.
func withOwnerLogger(ctx context.Context, ownerID string) context.Context {
	if scoped, _ := ctx.Value(ownerLoggerKey{}).(string); scoped == ownerID {
		return ctx
	}
	ctx = observability.WithLogger(ctx, observability.LoggerFromContext(ctx).With("owner_id", ownerID))
	return context.WithValue(ctx, ownerLoggerKey{}, ownerID)
}

package usecase

import (
	"context"
	"errors"
	"strings"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

// OwnershipGuard re-derives a job's owner from its channel identity.
type OwnershipGuard struct {
	users UserStore
}

func NewOwnershipGuard(users UserStore) (*OwnershipGuard, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	return &OwnershipGuard{users: users}, nil
}

// Verify fails with UNAUTHORIZED unless the channel maps to the job's owner.
func (g *OwnershipGuard) Verify(ctx context.Context, job domain.Job) error {
	channelID := strings.TrimSpace(job.ChannelID)
	ownerID := strings.TrimSpace(job.OwnerID)
	if channelID == "" || ownerID == "" {
		return newError(ErrorUnauthorized, "missing_job_identity", nil)
	}
	bound, err := g.users.OwnerByChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorUnauthorized, "unknown_channel", nil)
	}
	if err != nil {
		return newError(ErrorStore, "owner_lookup_error", err)
	}
	if bound != ownerID {
		observability.LoggerFromContext(ctx).Warn("job owner mismatch",
			"job_id", job.ID, "job_owner_id", ownerID, "channel_owner_id", bound)
		return newError(ErrorUnauthorized, "owner_mismatch", nil)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"estate-assistant/internal/domain"
)

// GetEntitlement reads the billing record. The record is written by the
// billing integration; this service never modifies it.
func (c *Client) GetEntitlement(ctx context.Context, ownerID string) (domain.PlanEntitlement, bool, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), skEntitlement)
	if err != nil {
		return domain.PlanEntitlement{}, false, fmt.Errorf("repository: GetEntitlement: %w", err)
	}
	if item == nil {
		return domain.PlanEntitlement{}, false, nil
	}
	plan, err := strAttr(item, "planType")
	if err != nil {
		return domain.PlanEntitlement{}, false, fmt.Errorf("repository: GetEntitlement decode: %w", err)
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.PlanEntitlement{}, false, fmt.Errorf("repository: GetEntitlement decode: %w", err)
	}
	expiresAt, err := optTimeAttr(item, "expiresAt")
	if err != nil {
		return domain.PlanEntitlement{}, false, fmt.Errorf("repository: GetEntitlement decode: %w", err)
	}
	return domain.PlanEntitlement{
		OwnerID:   ownerID,
		PlanType:  domain.PlanType(plan),
		Status:    domain.EntitlementStatus(status),
		ExpiresAt: expiresAt,
	}, true, nil
}

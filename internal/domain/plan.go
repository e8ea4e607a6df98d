package domain

import "time"

type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanBeta     PlanType = "beta"
	PlanStandard PlanType = "standard"
)

type EntitlementStatus string

const (
	EntitlementActive   EntitlementStatus = "active"
	EntitlementCanceled EntitlementStatus = "canceled"
	EntitlementExpired  EntitlementStatus = "expired"
)

// PlanEntitlement is the billing view of an owner's subscription.
type PlanEntitlement struct {
	OwnerID   string
	PlanType  PlanType
	Status    EntitlementStatus
	ExpiresAt *time.Time
}

// Premium reports whether the entitlement unlocks paid features.
func (e PlanEntitlement) Premium() bool {
	if e.Status != EntitlementActive {
		return false
	}
	return e.PlanType == PlanBeta || e.PlanType == PlanStandard
}

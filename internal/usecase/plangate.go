package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const (
	DefaultFreeTaskCeiling   = 2
	defaultEntitlementCache  = 1024
	defaultEntitlementMaxAge = time.Minute

	upgradeMessage = "Upgrade to a paid plan to see every task, add your own tasks and receive reminders."
)

// PlanGate masks results and gates capabilities by subscription tier.
type PlanGate struct {
	billing EntitlementReader
	ceiling int
	cache   *expirable.LRU[string, domain.PlanEntitlement]
}

type PlanGateOptions struct {
	FreeTaskCeiling int
	CacheSize       int
	CacheTTL        time.Duration
}

func NewPlanGate(billing EntitlementReader, opts PlanGateOptions) (*PlanGate, error) {
	if billing == nil {
		return nil, errors.New("usecase: entitlement reader must not be nil")
	}
	if opts.FreeTaskCeiling <= 0 {
		opts.FreeTaskCeiling = DefaultFreeTaskCeiling
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultEntitlementCache
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultEntitlementMaxAge
	}
	return &PlanGate{
		billing: billing,
		ceiling: opts.FreeTaskCeiling,
		cache:   expirable.NewLRU[string, domain.PlanEntitlement](opts.CacheSize, nil, opts.CacheTTL),
	}, nil
}

// Ceiling is the number of tasks a free owner sees unmasked.
func (g *PlanGate) Ceiling() int {
	return g.ceiling
}

// Entitlement returns the owner's entitlement; owners without one are free.
// Read failures degrade to free and are not cached.
func (g *PlanGate) Entitlement(ctx context.Context, ownerID string) domain.PlanEntitlement {
	ctx = withOwnerLogger(ctx, ownerID)
	if ent, ok := g.cache.Get(ownerID); ok {
		return ent
	}
	free := domain.PlanEntitlement{OwnerID: ownerID, PlanType: domain.PlanFree, Status: domain.EntitlementActive}
	ent, ok, err := g.billing.GetEntitlement(ctx, ownerID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("entitlement read failed, treating owner as free", "err", err)
		return free
	}
	if !ok {
		ent = free
	}
	g.cache.Add(ownerID, ent)
	return ent
}

func (g *PlanGate) IsPremium(ctx context.Context, ownerID string) bool {
	return g.Entitlement(ctx, ownerID).Premium()
}

// Invalidate drops the cached entitlement, e.g. after a plan change.
func (g *PlanGate) Invalidate(ownerID string) {
	g.cache.Remove(ownerID)
}

// FilterTasks passes the first ceiling tasks through for free owners and
// masks the rest, keeping the original order.
func (g *PlanGate) FilterTasks(ctx context.Context, ownerID string, tasks []domain.Task) []domain.TaskView {
	premium := g.IsPremium(ctx, ownerID)
	out := make([]domain.TaskView, len(tasks))
	for i := range tasks {
		if premium || i < g.ceiling {
			t := tasks[i]
			out[i] = domain.TaskView{Index: i, Task: &t}
			continue
		}
		out[i] = domain.TaskView{Index: i, IsMasked: true}
	}
	return out
}

// CanAccessDetail applies the list ceiling to 0-based detail access.
func (g *PlanGate) CanAccessDetail(ctx context.Context, ownerID string, index int) bool {
	if index < 0 {
		return false
	}
	return index < g.ceiling || g.IsPremium(ctx, ownerID)
}

// CanMutate allows editing or deleting only premium owners' own tasks.
func (g *PlanGate) CanMutate(ctx context.Context, ownerID string, task domain.Task) bool {
	return task.SourceType == domain.SourceUserCreated && g.IsPremium(ctx, ownerID)
}

func (g *PlanGate) CanAddCustomTask(ctx context.Context, ownerID string) bool {
	return g.IsPremium(ctx, ownerID)
}

func (g *PlanGate) CanUseReminders(ctx context.Context, ownerID string) bool {
	return g.IsPremium(ctx, ownerID)
}

func (g *PlanGate) UpgradeMessage() string {
	return upgradeMessage
}

// PlanStatusMessage describes the owner's plan for the settings view.
func (g *PlanGate) PlanStatusMessage(ctx context.Context, ownerID string) string {
	ent := g.Entitlement(ctx, ownerID)
	if !ent.Premium() {
		return fmt.Sprintf("You are on the free plan. The first %d tasks are shown in full.\n%s", g.ceiling, upgradeMessage)
	}
	msg := fmt.Sprintf("You are on the %s plan. All features are available.", ent.PlanType)
	if ent.ExpiresAt != nil {
		msg += fmt.Sprintf("\nRenews or ends on %s.", ent.ExpiresAt.Format(time.DateOnly))
	}
	return msg
}

package usecase

import (
	"context"
	"errors"
	"time"

	"estate-assistant/internal/observability"
)

const (
	DefaultDailyLimit = 100
	counterRetention  = 8 * 24 * time.Hour
	counterDayLayout  = time.DateOnly
)

// MessageCategory classifies inbound messages for throttling.
type MessageCategory string

const (
	CategoryGeneral  MessageCategory = "general"
	CategoryHelp     MessageCategory = "help"
	CategorySettings MessageCategory = "settings"
	CategoryBilling  MessageCategory = "billing"
)

// Exempt reports whether the category bypasses the rate limiter.
func (c MessageCategory) Exempt() bool {
	return c == CategoryHelp || c == CategorySettings || c == CategoryBilling
}

// RateLimiter is a per-owner daily request counter.
type RateLimiter struct {
	counters CounterStore
	limit    int
	metrics  Metrics
	loc      *time.Location
	now      func() time.Time
}

// NewRateLimiter counts days in loc; nil means UTC.
func NewRateLimiter(counters CounterStore, limit int, loc *time.Location, metrics Metrics) (*RateLimiter, error) {
	if counters == nil {
		return nil, errors.New("usecase: counter store must not be nil")
	}
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RateLimiter{counters: counters, limit: limit, metrics: metricsOrNop(metrics), loc: loc, now: time.Now}, nil
}

func (r *RateLimiter) Limit() int {
	return r.limit
}

// CheckAndIncrement counts the request and reports whether it is within
// today's limit. Rejected requests are counted too. Exempt categories are
// neither checked nor counted. A store failure lets the request through.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, ownerID string, category MessageCategory) bool {
	ctx = withOwnerLogger(ctx, ownerID)
	if category.Exempt() {
		return true
	}
	now := r.now().In(r.loc)
	count, err := r.counters.IncrementDailyCounter(ctx, ownerID, now.Format(counterDayLayout), now.Add(counterRetention))
	if err != nil {
		observability.LoggerFromContext(ctx).Error("rate limit counter failed, allowing request", "err", err)
		r.metrics.RateLimitDecision(true)
		return true
	}
	allowed := count <= r.limit
	r.metrics.RateLimitDecision(allowed)
	if !allowed {
		observability.LoggerFromContext(ctx).Warn("rate limit exceeded", "count", count, "limit", r.limit)
	}
	return allowed
}

// CurrentCount returns today's counter without incrementing it.
func (r *RateLimiter) CurrentCount(ctx context.Context, ownerID string) (int, error) {
	day := r.now().In(r.loc).Format(counterDayLayout)
	n, err := r.counters.GetDailyCounter(ctx, ownerID, day)
	if err != nil {
		return 0, newError(ErrorStore, "counter_read_error", err)
	}
	return n, nil
}

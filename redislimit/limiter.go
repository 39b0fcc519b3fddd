// Package redislimit implements audit.ExportLimiter on Redis so the export
// budget is shared by every replica.
package redislimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	audit "github.com/fanengagement/go-audit"
)

const keyPrefix = "audit:"

// Limiter is a GCRA limiter backed by Redis.
type Limiter struct {
	rl    *redis_rate.Limiter
	limit redis_rate.Limit
}

var _ audit.ExportLimiter = (*Limiter)(nil)

// New creates a limiter using client with cfg's budget per key.
func New(client redis.UniversalClient, cfg audit.RateLimitConfig) *Limiter {
	d := audit.DefaultExportRateLimit()
	if cfg.Limit <= 0 {
		cfg.Limit = d.Limit
	}
	if cfg.Period <= 0 {
		cfg.Period = d.Period
	}
	if cfg.Burst <= 0 {
		cfg.Burst = min(cfg.Limit, d.Burst)
	}
	return &Limiter{
		rl:    redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{Rate: cfg.Limit, Period: cfg.Period, Burst: cfg.Burst},
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (audit.RateDecision, error) {
	res, err := l.rl.Allow(ctx, keyPrefix+key, l.limit)
	if err != nil {
		return audit.RateDecision{}, fmt.Errorf("checking export rate limit: %w", err)
	}
	if res.Allowed == 0 {
		return audit.RateDecision{RetryAfter: res.RetryAfter}, nil
	}
	return audit.RateDecision{Allowed: true, Remaining: res.Remaining}, nil
}

// Reset clears the budget for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.rl.Reset(ctx, keyPrefix+key); err != nil {
		return fmt.Errorf("resetting export rate limit: %w", err)
	}
	return nil
}

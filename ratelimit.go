package audit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateDecision is the verdict of an ExportLimiter.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// ExportLimiter bounds how often a caller may export.
type ExportLimiter interface {
	Allow(ctx context.Context, key string) (RateDecision, error)
}

// RateLimitConfig expresses a per-caller budget of Limit exports per Period
// with bursts up to Burst.
type RateLimitConfig struct {
	Limit  int
	Period time.Duration
	Burst  int
}

// DefaultExportRateLimit allows 10 exports per hour per caller.
func DefaultExportRateLimit() RateLimitConfig {
	return RateLimitConfig{Limit: 10, Period: time.Hour, Burst: 3}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	d := DefaultExportRateLimit()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.Burst <= 0 {
		c.Burst = min(c.Limit, d.Burst)
	}
	return c
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per key. Use a shared limiter
// (see package redislimit) when running more than one replica.
type LocalLimiter struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	entries   map[string]*limiterEntry
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(cfg RateLimitConfig) *LocalLimiter {
	cfg = cfg.normalized()
	return &LocalLimiter{
		cfg:     cfg,
		entries: make(map[string]*limiterEntry),
		idleTTL: 2 * cfg.Period,
		now:     time.Now,
	}
}

// Allow takes one token for key if available.
func (l *LocalLimiter) Allow(_ context.Context, key string) (RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(l.cfg.Period/time.Duration(l.cfg.Limit)), l.cfg.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateDecision{Allowed: false, RetryAfter: delay}, nil
	}
	return RateDecision{Allowed: true, Remaining: int(e.lim.TokensAt(now))}, nil
}

// sweep forgets idle keys, at most once per idleTTL.
func (l *LocalLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.entries, k)
		}
	}
}

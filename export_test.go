package audit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Hooks for external tests.

var NextRun = nextRun

func (l *LocalLimiter) SetClock(now func() time.Time) { l.now = now }

func (p *Persister) RetryPolicy(ctx context.Context) backoff.BackOff { return p.retryPolicy(ctx) }

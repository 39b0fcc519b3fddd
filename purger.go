package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// MinRetentionDays is the enforced lower bound of the retention window.
	MinRetentionDays     = 30
	DefaultRetentionDays = 365
)

// PurgerConfig tunes retention purging.
type PurgerConfig struct {
	RetentionDays int
	// MinRetentionDays overrides the enforced floor. Zero means
	// MinRetentionDays; tests lower it to exercise short windows.
	MinRetentionDays int
	BatchSize        int
	Pause            time.Duration // between delete batches
	BatchTimeout     time.Duration // per delete statement
	RunHour          int           // UTC
	RunMinute        int
}

func (c *PurgerConfig) setDefaults() {
	if c.MinRetentionDays <= 0 {
		c.MinRetentionDays = MinRetentionDays
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.RunHour < 0 || c.RunHour > 23 {
		c.RunHour = 3
	}
	if c.RunMinute < 0 || c.RunMinute > 59 {
		c.RunMinute = 0
	}
}

// PurgeResult describes one purge run.
type PurgeResult struct {
	RunID    uuid.UUID
	Cutoff   time.Time
	Deleted  int64
	Batches  int
	Duration time.Duration
}

// Purger deletes events older than the retention window in small batches.
// At most one run is active at a time.
type Purger struct {
	store   Store
	svc     *Service
	cfg     PurgerConfig
	running atomic.Bool
	logger  *slog.Logger
	metrics *Metrics
	health  *Health
	now     func() time.Time
}

// PurgerOptions holds the optional collaborators of a Purger.
type PurgerOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Health  *Health
	Now     func() time.Time
}

// NewPurger creates a purger. Summary events are written through svc's
// synchronous path.
func NewPurger(store Store, svc *Service, cfg PurgerConfig, opts PurgerOptions) *Purger {
	cfg.setDefaults()
	p := &Purger{
		store:   store,
		svc:     svc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		health:  opts.Health,
		now:     opts.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.health == nil {
		p.health = &Health{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if cfg.RetentionDays < cfg.MinRetentionDays {
		p.logger.Warn("audit retention below minimum, clamping",
			"configured_days", cfg.RetentionDays, "min_days", cfg.MinRetentionDays)
		cfg.RetentionDays = cfg.MinRetentionDays
	}
	p.cfg = cfg
	return p
}

// RetentionDays returns the effective retention window.
func (p *Purger) RetentionDays() int { return p.cfg.RetentionDays }

// Run purges once a day at RunHour:RunMinute UTC until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) error {
	for {
		next := nextRun(p.now(), p.cfg.RunHour, p.cfg.RunMinute)
		p.logger.Info("audit purge scheduled", "next_run", next)
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if _, err := p.PurgeOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("audit purge run failed", "error", err)
		}
	}
}

// nextRun returns the first hour:minute UTC strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PurgeOnce deletes every event with timestamp strictly before
// now - RetentionDays, then records a summary event. Cancellation is checked
// between batches; a started delete always completes.
func (p *Purger) PurgeOnce(ctx context.Context) (PurgeResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return PurgeResult{}, ErrPurgeInProgress
	}
	defer p.running.Store(false)

	start := p.now()
	res := PurgeResult{
		RunID:  uuid.New(),
		Cutoff: start.UTC().AddDate(0, 0, -p.cfg.RetentionDays).Truncate(time.Microsecond),
	}

	ctx, span := tracer().Start(ctx, "audit.purge")
	defer span.End()

	var runErr error
	for {
		res.Batches++
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.BatchTimeout)
		n, err := p.store.DeleteBefore(dctx, res.Cutoff, p.cfg.BatchSize)
		cancel()
		res.Deleted += n
		if err != nil {
			runErr = fmt.Errorf("deleting batch %d: %w", res.Batches, err)
			break
		}
		if n < int64(p.cfg.BatchSize) {
			break
		}
		if err := pause(ctx, p.cfg.Pause); err != nil {
			runErr = err
			break
		}
	}
	res.Duration = p.now().Sub(start)
	span.SetAttributes(attribute.Int64("audit.purge.deleted", res.Deleted))

	p.summarize(ctx, res, runErr)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "purge aborted")
		p.metrics.purgeRun("error", res.Deleted, p.now())
		p.logger.Error("audit purge aborted",
			"error", runErr, "deleted", res.Deleted, "cutoff", res.Cutoff, "batches", res.Batches)
		return res, runErr
	}
	at := p.now()
	p.health.recordPurge(at, res.Deleted)
	p.metrics.purgeRun("success", res.Deleted, at)
	p.logger.Info("audit purge completed",
		"deleted", res.Deleted, "cutoff", res.Cutoff, "batches", res.Batches, "duration", res.Duration)
	return res, nil
}

func (p *Purger) summarize(ctx context.Context, res PurgeResult, runErr error) {
	b := p.svc.New().
		System().
		Action(ActionPurged).
		Resource(ResourceAuditLog, res.RunID, "retention purge").
		Correlation(CorrelationIDFrom(ctx)).
		Details(map[string]any{
			"deletedCount":  res.Deleted,
			"cutoff":        res.Cutoff.Format(time.RFC3339Nano),
			"durationMs":    res.Duration.Milliseconds(),
			"batches":       res.Batches,
			"retentionDays": p.cfg.RetentionDays,
		})
	switch {
	case runErr == nil:
	case res.Deleted > 0:
		b.Partial(runErr.Error())
	default:
		b.Failed(runErr.Error())
	}
	e, err := b.Build()
	if err != nil {
		p.logger.Error("audit purge summary rejected", "error", err)
		return
	}
	p.svc.LogSync(ctx, e)
}

// pause waits d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

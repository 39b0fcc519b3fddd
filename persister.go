package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PersisterConfig tunes the batch persister.
type PersisterConfig struct {
	BatchSize        int           // max events per write
	FlushInterval    time.Duration // how long to wait for a batch to fill
	MaxRetries       int           // extra attempts per batch before falling back
	RetryBackoff     time.Duration // first retry delay, roughly doubled per attempt with jitter
	MaxRetryBackoff  time.Duration // cap on a single retry delay
	WriteTimeout     time.Duration // per attempt
	DrainTimeout     time.Duration // best-effort drain window on shutdown
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *PersisterConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = max(c.RetryBackoff, 5*time.Second)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

// PersisterOptions holds the optional collaborators of a Persister.
type PersisterOptions struct {
	Fallback FallbackSink
	Logger   *slog.Logger
	Metrics  *Metrics
	Health   *Health
	Now      func() time.Time
}

// Persister is the single consumer of a Queue. It writes batches to the
// store and never pushes back on producers.
type Persister struct {
	queue    *Queue
	store    Store
	fallback FallbackSink
	cfg      PersisterConfig
	breaker  *breaker
	logger   *slog.Logger
	metrics  *Metrics
	health   *Health
	now      func() time.Time
}

// NewPersister creates a persister draining queue into store.
func NewPersister(queue *Queue, store Store, cfg PersisterConfig, opts PersisterOptions) *Persister {
	cfg.setDefaults()
	p := &Persister{
		queue:    queue,
		store:    store,
		fallback: opts.Fallback,
		cfg:      cfg,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		health:   opts.Health,
		now:      opts.Now,
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
	p.breaker = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, p.now)
	return p
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// empty. On cancellation it closes the queue and drains it for at most
// DrainTimeout; whatever is still queued afterwards is counted as dropped.
func (p *Persister) Run(ctx context.Context) error {
	p.logger.Info("audit persister started",
		"batch_size", p.cfg.BatchSize, "flush_interval", p.cfg.FlushInterval)
	for {
		batch, err := p.queue.Next(ctx, p.cfg.BatchSize, p.cfg.FlushInterval)
		if len(batch) > 0 {
			// a dequeued batch is owned here and is written even if ctx ended
			p.persist(context.WithoutCancel(ctx), batch)
		}
		if errors.Is(err, ErrQueueClosed) {
			p.logger.Info("audit persister stopped: queue closed")
			return nil
		}
		if err != nil || ctx.Err() != nil {
			break
		}
	}
	p.drain()
	return nil
}

func (p *Persister) drain() {
	p.queue.Close()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()

	drained := 0
	for ctx.Err() == nil {
		batch := p.queue.TryDequeue(p.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		p.persist(ctx, batch)
		drained += len(batch)
	}
	lost := p.queue.Discard(dropReasonShutdown)
	if lost > 0 {
		p.logger.Error("audit drain deadline exceeded, events lost", "lost", lost, "drained", drained)
		return
	}
	p.logger.Info("audit persister drained", "drained", drained)
}

// persist writes one batch with retries, falling back when storage is
// unavailable or the breaker is open.
func (p *Persister) persist(ctx context.Context, batch []Event) {
	ctx, span := tracer().Start(ctx, "audit.persist_batch",
		trace.WithAttributes(attribute.Int("audit.batch_size", len(batch))))
	defer span.End()

	if !p.breaker.allow() {
		span.SetStatus(codes.Error, "breaker open")
		p.fallbackBatch(ctx, batch, ErrCircuitOpen)
		return
	}

	var lastErr error
	attempt := 0
	write := func() error {
		attempt++
		start := time.Now()
		wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		err := p.store.InsertBatch(wctx, batch)
		cancel()
		p.metrics.observeBatch(time.Since(start))
		if err == nil {
			return nil
		}
		lastErr = err
		p.health.recordPersistFailure()
		p.metrics.incPersistFailures()
		p.logger.Error("audit batch write failed",
			"error", err, "attempt", attempt, "batch_size", len(batch))
		if p.breaker.failure() {
			p.metrics.setBreaker(true)
			p.logger.Warn("audit storage breaker opened")
			return backoff.Permanent(err)
		}
		return err
	}

	if backoff.Retry(write, p.retryPolicy(ctx)) == nil {
		p.breaker.success()
		p.metrics.setBreaker(false)
		at := p.now()
		p.health.recordPersist(at)
		p.metrics.persisted(len(batch), at)
		return
	}
	err := lastErr
	span.RecordError(err)
	span.SetStatus(codes.Error, "batch write failed")
	p.fallbackBatch(ctx, batch, err)
}

func (p *Persister) fallbackBatch(ctx context.Context, batch []Event, cause error) {
	if spill(context.WithoutCancel(ctx), p.fallback, batch, cause, p.logger, p.metrics) {
		p.health.recordFallback()
	}
}

// retryPolicy spaces the MaxRetries extra attempts of one batch with
// jittered exponential delays. It stops early when ctx ends.
func (p *Persister) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.RetryBackoff),
		backoff.WithMaxInterval(p.cfg.MaxRetryBackoff),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxRetries)), ctx)
}

// Stats reports the persister's view of pipeline health.
func (p *Persister) Stats() Stats {
	return p.health.snapshot(p.queue, p.breaker)
}

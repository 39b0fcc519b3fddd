package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Config collects every tunable of the pipeline.
type Config struct {
	QueueCapacity   int
	OverflowPolicy  OverflowPolicy
	SyncTimeout     time.Duration
	SensitiveFields []string
	Persister       PersisterConfig
	Retention       PurgerConfig
	Query           QueryConfig
	ExportRateLimit RateLimitConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   DefaultQueueCapacity,
		OverflowPolicy:  DropNewest,
		SyncTimeout:     DefaultSyncTimeout,
		SensitiveFields: DefaultSensitiveFields,
		Persister: PersisterConfig{
			BatchSize:        100,
			FlushInterval:    100 * time.Millisecond,
			MaxRetries:       2,
			RetryBackoff:     100 * time.Millisecond,
			MaxRetryBackoff:  5 * time.Second,
			WriteTimeout:     5 * time.Second,
			DrainTimeout:     5 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Retention: PurgerConfig{
			RetentionDays: DefaultRetentionDays,
			BatchSize:     1000,
			Pause:         50 * time.Millisecond,
			BatchTimeout:  30 * time.Second,
			RunHour:       3,
		},
		Query: QueryConfig{
			MaxExportRange:  DefaultMaxExportRange,
			ExportBatchSize: 500,
		},
		ExportRateLimit: DefaultExportRateLimit(),
	}
}

// Options holds the collaborators injected into a Pipeline.
type Options struct {
	Fallback   FallbackSink
	Limiter    ExportLimiter // nil means a LocalLimiter built from ExportRateLimit
	Logger     *slog.Logger
	Registerer prometheus.Registerer // nil disables metrics
	Now        func() time.Time
}

// Pipeline owns the queue and the components sharing it.
type Pipeline struct {
	Queue     *Queue
	Service   *Service
	Persister *Persister
	Purger    *Purger
	Query     *QueryService

	health *Health
}

// NewPipeline wires a queue, ingestion service, persister, purger and query
// service around store.
func NewPipeline(cfg Config, store Store, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")
	metrics := NewMetrics(opts.Registerer)
	health := &Health{}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLocalLimiter(cfg.ExportRateLimit)
	}

	q := NewQueue(cfg.QueueCapacity, cfg.OverflowPolicy, logger, metrics)
	svc := NewService(q, store, ServiceOptions{
		Fallback:    opts.Fallback,
		Redactor:    NewRedactor(cfg.SensitiveFields),
		Logger:      logger,
		Metrics:     metrics,
		Health:      health,
		SyncTimeout: cfg.SyncTimeout,
		Now:         opts.Now,
	})
	return &Pipeline{
		Queue:   q,
		Service: svc,
		Persister: NewPersister(q, store, cfg.Persister, PersisterOptions{
			Fallback: opts.Fallback,
			Logger:   logger,
			Metrics:  metrics,
			Health:   health,
			Now:      opts.Now,
		}),
		Purger: NewPurger(store, svc, cfg.Retention, PurgerOptions{
			Logger:  logger,
			Metrics: metrics,
			Health:  health,
			Now:     opts.Now,
		}),
		Query: NewQueryService(store, svc, cfg.Query, QueryOptions{
			Limiter: limiter,
			Logger:  logger,
			Metrics: metrics,
			Now:     opts.Now,
		}),
		health: health,
	}
}

// Run starts the persister and the purge scheduler and blocks until ctx is
// cancelled and the persister has drained.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Persister.Run(ctx) })
	g.Go(func() error { return p.Purger.Run(ctx) })
	return g.Wait()
}

// Stats returns a health snapshot.
func (p *Pipeline) Stats() Stats {
	return p.health.snapshot(p.Queue, p.Persister.breaker)
}

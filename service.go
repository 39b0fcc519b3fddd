package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fanengagement/go-audit"

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// DefaultSyncTimeout bounds a synchronous write.
const DefaultSyncTimeout = 5 * time.Second

// ServiceOptions holds the optional collaborators of a Service.
type ServiceOptions struct {
	Fallback    FallbackSink
	Redactor    *Redactor
	Logger      *slog.Logger
	Metrics     *Metrics
	Health      *Health
	SyncTimeout time.Duration
	Now         func() time.Time
}

// Service is the ingestion entry point. None of its methods return errors or
// panic: audit failures are logged and never reach the business operation.
type Service struct {
	queue       *Queue
	store       Store
	fallback    FallbackSink
	redactor    *Redactor
	logger      *slog.Logger
	metrics     *Metrics
	health      *Health
	syncTimeout time.Duration
	now         func() time.Time
}

// NewService creates an ingestion service feeding queue (async) and store
// (sync).
func NewService(queue *Queue, store Store, opts ServiceOptions) *Service {
	s := &Service{
		queue:       queue,
		store:       store,
		fallback:    opts.Fallback,
		redactor:    opts.Redactor,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		health:      opts.Health,
		syncTimeout: opts.SyncTimeout,
		now:         opts.Now,
	}
	if s.redactor == nil {
		s.redactor = defaultRedactor
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.health == nil {
		s.health = &Health{}
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = DefaultSyncTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// New starts a builder that uses the service's clock and redaction list.
func (s *Service) New() *Builder {
	return NewEvent().WithClock(s.now).WithRedactor(s.redactor)
}

// LogAsync enqueues e and returns immediately. A full queue is handled by the
// overflow policy.
func (s *Service) LogAsync(ctx context.Context, e *Event) {
	if e == nil || ShouldSkip(ctx) {
		return
	}
	defer s.recoverPanic("async", e)
	s.queue.Offer(e)
}

// LogSync writes e durably before returning. A started write is not aborted
// by ctx cancellation. Failures go to the fallback sink and are never returned.
func (s *Service) LogSync(ctx context.Context, e *Event) {
	if e == nil || ShouldSkip(ctx) {
		return
	}
	defer s.recoverPanic("sync", e)

	ctx, span := tracer().Start(ctx, "audit.log_sync", trace.WithAttributes(
		attribute.String("audit.event_id", e.ID.String()),
		attribute.String("audit.action_type", string(e.ActionType)),
	))
	defer span.End()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.syncTimeout)
	defer cancel()
	batch := []Event{*e}
	if err := s.store.InsertBatch(wctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync write failed")
		s.health.recordPersistFailure()
		s.metrics.incPersistFailures()
		s.logger.Error("audit sync write failed", append([]any{"error", err}, e.logAttrs()...)...)
		if spill(context.WithoutCancel(ctx), s.fallback, batch, err, s.logger, s.metrics) {
			s.health.recordFallback()
		}
		return
	}
	at := s.now()
	s.health.recordPersist(at)
	s.metrics.persisted(1, at)
}

// Emit builds b and logs the result. Actor and correlation id default to the
// values carried by ctx. Build errors are logged and discarded.
func (s *Service) Emit(ctx context.Context, b *Builder, sync bool) {
	if b == nil || ShouldSkip(ctx) {
		return
	}
	defer s.recoverPanic("emit", nil)

	if b.actor == (ActorContext{}) {
		b.actor = ActorFrom(ctx)
	}
	if b.correlation == "" {
		b.correlation = CorrelationIDFrom(ctx)
	}
	e, err := b.Build()
	if err != nil {
		s.logger.Warn("audit event rejected", "error", err)
		return
	}
	if sync {
		s.LogSync(ctx, e)
		return
	}
	s.LogAsync(ctx, e)
}

func (s *Service) recoverPanic(path string, e *Event) {
	r := recover()
	if r == nil {
		return
	}
	attrs := []any{"path", path, "panic", fmt.Sprint(r)}
	if e != nil {
		attrs = append(attrs, e.logAttrs()...)
	}
	s.logger.Error("audit ingestion panicked", attrs...)
}

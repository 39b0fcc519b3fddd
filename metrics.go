package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label of audit_events_dropped_total.
const (
	dropReasonOverflow = "overflow"
	dropReasonClosed   = "closed"
	dropReasonShutdown = "shutdown"
)

// Metrics holds the Prometheus collectors for the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Enqueued        prometheus.Counter
	Dropped         *prometheus.CounterVec
	Persisted       prometheus.Counter
	PersistFailures prometheus.Counter
	FallbackWrites  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	BatchDuration   prometheus.Histogram
	BreakerState    prometheus.Gauge
	PurgeDeleted    prometheus.Counter
	PurgeRuns       *prometheus.CounterVec
	Exports         *prometheus.CounterVec
	LastPersist     prometheus.Gauge
	LastPurge       prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg. A nil reg returns
// nil, disabling metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_enqueued_total",
			Help: "Total number of audit events accepted by the async queue",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped before persistence",
		}, []string{"reason"}),
		Persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_persisted_total",
			Help: "Total number of audit events written to storage",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_persist_failures_total",
			Help: "Total number of failed audit storage writes (batches or sync events)",
		}),
		FallbackWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_fallback_writes_total",
			Help: "Audit batches routed to the fallback sink, by result",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Number of audit events waiting in the async queue",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_persist_batch_seconds",
			Help:    "Latency of audit batch writes",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_storage_breaker_open",
			Help: "Storage circuit breaker state (0=closed, 1=open)",
		}),
		PurgeDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_purge_deleted_total",
			Help: "Total number of audit events deleted by retention purging",
		}),
		PurgeRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_purge_runs_total",
			Help: "Retention purge runs, by result",
		}, []string{"result"}),
		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_exports_total",
			Help: "Audit exports started, by format",
		}, []string{"format"}),
		LastPersist: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_last_persist_timestamp_seconds",
			Help: "Unix time of the last successful audit write",
		}),
		LastPurge: f.NewGauge(prometheus.GaugeOpts{
			Name: "audit_last_purge_timestamp_seconds",
			Help: "Unix time of the last successful retention purge",
		}),
	}
}

func (m *Metrics) incEnqueued() {
	if m != nil {
		m.Enqueued.Inc()
	}
}

func (m *Metrics) incDropped(reason string, n int) {
	if m != nil && n > 0 {
		m.Dropped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) setQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) persisted(n int, at time.Time) {
	if m != nil {
		m.Persisted.Add(float64(n))
		m.LastPersist.Set(float64(at.Unix()))
	}
}

func (m *Metrics) incPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) fallback(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.FallbackWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) observeBatch(d time.Duration) {
	if m != nil {
		m.BatchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) setBreaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}

func (m *Metrics) purgeRun(result string, deleted int64, at time.Time) {
	if m == nil {
		return
	}
	m.PurgeRuns.WithLabelValues(result).Inc()
	m.PurgeDeleted.Add(float64(deleted))
	if result == "success" {
		m.LastPurge.Set(float64(at.Unix()))
	}
}

func (m *Metrics) incExports(format ExportFormat) {
	if m != nil {
		m.Exports.WithLabelValues(string(format)).Inc()
	}
}

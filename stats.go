package audit

import (
	"sync/atomic"
	"time"
)

// Health tracks the pipeline's observable state for readiness reporting.
// All methods are safe for concurrent use.
type Health struct {
	persistFailures  atomic.Uint64
	fallbackWrites   atomic.Uint64
	lastPersist      atomic.Int64 // unix nanos, 0 = never
	lastPurge        atomic.Int64
	lastPurgeDeleted atomic.Int64
}

func (h *Health) recordPersist(at time.Time) { h.lastPersist.Store(at.UnixNano()) }
func (h *Health) recordPersistFailure()      { h.persistFailures.Add(1) }
func (h *Health) recordFallback()            { h.fallbackWrites.Add(1) }

func (h *Health) recordPurge(at time.Time, deleted int64) {
	h.lastPurgeDeleted.Store(deleted)
	h.lastPurge.Store(at.UnixNano())
}

// PersistFailures returns the number of failed storage writes.
func (h *Health) PersistFailures() uint64 { return h.persistFailures.Load() }

// FallbackWrites returns how many batches were routed to the fallback sink.
func (h *Health) FallbackWrites() uint64 { return h.fallbackWrites.Load() }

// LastPersist returns when events were last written, or the zero time.
func (h *Health) LastPersist() time.Time { return unixNano(h.lastPersist.Load()) }

// LastPurge returns when the last successful purge finished and how many
// events it deleted.
func (h *Health) LastPurge() (time.Time, int64) {
	return unixNano(h.lastPurge.Load()), h.lastPurgeDeleted.Load()
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Stats is a point-in-time snapshot of the pipeline.
type Stats struct {
	Dropped          uint64     `json:"dropped"`
	PersistFailures  uint64     `json:"persistFailures"`
	FallbackWrites   uint64     `json:"fallbackWrites"`
	LastPersistAt    *time.Time `json:"lastPersistAt,omitempty"`
	LastPurgeAt      *time.Time `json:"lastPurgeAt,omitempty"`
	LastPurgeDeleted int64      `json:"lastPurgeDeleted"`
	QueueDepth       int        `json:"queueDepth"`
	QueueCapacity    int        `json:"queueCapacity"`
	OverflowPolicy   string     `json:"overflowPolicy"`
	BreakerOpen      bool       `json:"breakerOpen"`
}

func (h *Health) snapshot(q *Queue, b *breaker) Stats {
	s := Stats{
		PersistFailures: h.persistFailures.Load(),
		FallbackWrites:  h.fallbackWrites.Load(),
	}
	if t := h.LastPersist(); !t.IsZero() {
		s.LastPersistAt = &t
	}
	if t, n := h.LastPurge(); !t.IsZero() {
		s.LastPurgeAt = &t
		s.LastPurgeDeleted = n
	}
	if q != nil {
		s.Dropped = q.Dropped()
		s.QueueDepth = q.Len()
		s.QueueCapacity = q.Cap()
		s.OverflowPolicy = q.Policy().String()
	}
	if b != nil {
		s.BreakerOpen = b.isOpen()
	}
	return s
}

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy decides what happens when an event is offered to a full queue.
type OverflowPolicy int

const (
	// DropNewest rejects the incoming event and keeps the queue intact.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the longest-queued event to admit the new one.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy accepts "drop-newest" or "drop-oldest" (underscores and
// case are ignored).
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "drop-newest", "newest":
		return DropNewest, nil
	case "drop-oldest", "oldest":
		return DropOldest, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

// DefaultQueueCapacity is used when a non-positive capacity is given.
const DefaultQueueCapacity = 5000

// Queue is a fixed-capacity buffer of unpersisted events between many
// producers and a single consumer. Offer never blocks.
type Queue struct {
	mu     sync.Mutex
	buf    []Event
	head   int // next write position
	tail   int // next read position
	count  int
	closed bool

	policy  OverflowPolicy
	notify  chan struct{}
	dropped atomic.Uint64

	logger  *slog.Logger
	metrics *Metrics
}

// NewQueue creates a queue with the given capacity and overflow policy.
func NewQueue(capacity int, policy OverflowPolicy, logger *slog.Logger, metrics *Metrics) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		buf:     make([]Event, capacity),
		policy:  policy,
		notify:  make(chan struct{}, 1),
		logger:  logger,
		metrics: metrics,
	}
}

// Offer tries to add e without blocking. It reports whether e was admitted.
// Under DropOldest a full queue admits e and evicts the oldest event instead.
func (q *Queue) Offer(e *Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.drop(e, dropReasonClosed)
		return false
	}

	var evicted Event
	evict := false
	if q.count == len(q.buf) {
		if q.policy == DropNewest {
			q.mu.Unlock()
			q.drop(e, dropReasonOverflow)
			return false
		}
		evicted = q.buf[q.tail]
		q.buf[q.tail] = Event{}
		q.tail = (q.tail + 1) % len(q.buf)
		q.count--
		evict = true
	}

	q.buf[q.head] = *e
	q.head = (q.head + 1) % len(q.buf)
	q.count++
	depth := q.count
	q.mu.Unlock()

	if evict {
		q.drop(&evicted, dropReasonOverflow)
	}
	q.metrics.incEnqueued()
	q.metrics.setQueueDepth(depth)
	q.signal()
	return true
}

func (q *Queue) drop(e *Event, reason string) {
	total := q.dropped.Add(1)
	q.metrics.incDropped(reason, 1)
	attrs := append([]any{"reason", reason, "policy", q.policy.String(), "dropped_total", total}, e.logAttrs()...)
	q.logger.Warn("audit event dropped", attrs...)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until at least one event is queued, then waits up to linger
// for the batch to reach max before returning it. It returns ErrQueueClosed
// once the queue is closed and empty, and ctx.Err() if ctx ends while the
// queue is empty. Only one goroutine may call Next.
func (q *Queue) Next(ctx context.Context, max int, linger time.Duration) ([]Event, error) {
	if max <= 0 {
		max = 1
	}
	for {
		n, closed := q.state()
		if n > 0 {
			break
		}
		if closed {
			return nil, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}

	if linger > 0 {
		timer := time.NewTimer(linger)
		defer timer.Stop()
	wait:
		for {
			n, closed := q.state()
			if n >= max || closed {
				break
			}
			select {
			case <-q.notify:
			case <-timer.C:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}
	return q.TryDequeue(max), nil
}

func (q *Queue) state() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count, q.closed
}

// TryDequeue removes up to max events without blocking.
func (q *Queue) TryDequeue(max int) []Event {
	q.mu.Lock()
	if q.count == 0 {
		q.mu.Unlock()
		return nil
	}
	if max <= 0 || max > q.count {
		max = q.count
	}
	out := make([]Event, max)
	for i := range max {
		out[i] = q.buf[q.tail]
		q.buf[q.tail] = Event{}
		q.tail = (q.tail + 1) % len(q.buf)
	}
	q.count -= max
	depth := q.count
	q.mu.Unlock()

	q.metrics.setQueueDepth(depth)
	return out
}

// Close stops admitting events. Events already queued remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Discard empties the queue, counting every removed event as dropped.
func (q *Queue) Discard(reason string) int {
	events := q.TryDequeue(0)
	for i := range events {
		q.drop(&events[i], reason)
	}
	return len(events)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	n, _ := q.state()
	return n
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Policy returns the overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }

// Dropped returns the number of events dropped since creation. It never
// decreases.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

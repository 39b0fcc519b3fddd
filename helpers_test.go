package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
	"github.com/fanengagement/go-audit/memstore"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// records decodes every JSON log line written so far.
func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

// count returns how many log records carry msg.
func (b *syncBuffer) count(t *testing.T, msg string) int {
	n := 0
	for _, r := range b.records(t) {
		if r["msg"] == msg {
			n++
		}
	}
	return n
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testEvent(t *testing.T, mods ...func(*audit.Builder)) *audit.Event {
	t.Helper()
	b := audit.NewEvent().
		Actor(audit.ActorContext{ID: uuid.New(), DisplayName: "alice", IPAddress: "203.0.113.7"}).
		Action(audit.ActionCreated).
		Resource(audit.ResourceProposal, uuid.New(), "Budget 2026")
	for _, m := range mods {
		m(b)
	}
	e, err := b.Build()
	require.NoError(t, err)
	return e
}

// flakyStore wraps a memstore and fails inserts while err is set.
type flakyStore struct {
	*memstore.Store
	mu      sync.Mutex
	err     error
	inserts []int
}

func newFlakyStore() *flakyStore { return &flakyStore{Store: memstore.New()} }

func (s *flakyStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *flakyStore) InsertBatch(ctx context.Context, events []audit.Event) error {
	s.mu.Lock()
	s.inserts = append(s.inserts, len(events))
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.InsertBatch(ctx, events)
}

func (s *flakyStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.inserts...)
}

// blockingStore never completes an insert before ctx ends.
type blockingStore struct {
	*memstore.Store
}

func (blockingStore) InsertBatch(ctx context.Context, _ []audit.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

// Package memstore is an in-memory audit.Store for tests and single-process
// development. It honours the same ordering, filter and idempotency rules as
// the PostgreSQL store.
package memstore

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "github.com/fanengagement/go-audit"
)

// Store keeps events in memory.
type Store struct {
	mu     sync.RWMutex
	events map[uuid.UUID]audit.Event
}

// New creates an empty store.
func New() *Store {
	return &Store{events: make(map[uuid.UUID]audit.Event)}
}

// InsertBatch appends events; ids already present are ignored.
func (s *Store) InsertBatch(ctx context.Context, events []audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if _, ok := s.events[e.ID]; ok {
			continue
		}
		s.events[e.ID] = clone(e)
	}
	return nil
}

// DeleteBefore removes up to limit of the oldest events with
// timestamp < cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var old []audit.Event
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			old = append(old, e)
		}
	}
	slices.SortFunc(old, func(a, b audit.Event) int { return -newestFirst(a, b) })
	if limit > 0 && len(old) > limit {
		old = old[:limit]
	}
	for _, e := range old {
		delete(s.events, e.ID)
	}
	return int64(len(old)), nil
}

// Query returns one page of matches, newest first, and the total.
func (s *Store) Query(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Event, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	matches := s.match(f)
	total := len(matches)
	if offset >= total {
		return []audit.Event{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matches[offset:end], total, nil
}

// Stream yields matches newest first in batches of batchSize.
func (s *Store) Stream(ctx context.Context, f audit.Filter, batchSize int) iter.Seq2[audit.Event, error] {
	if batchSize <= 0 {
		batchSize = 500
	}
	return func(yield func(audit.Event, error) bool) {
		for offset := 0; ; offset += batchSize {
			page, _, err := s.Query(ctx, f, offset, batchSize)
			if err != nil {
				yield(audit.Event{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < batchSize {
				return
			}
		}
	}
}

// Get returns the event with the given id.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	c := clone(e)
	return &c, nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All returns every stored event, newest first.
func (s *Store) All() []audit.Event {
	return s.match(audit.Filter{})
}

func (s *Store) match(f audit.Filter) []audit.Event {
	s.mu.RLock()
	out := make([]audit.Event, 0, len(s.events))
	for _, e := range s.events {
		if matches(&e, f) {
			out = append(out, clone(e))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, newestFirst)
	return out
}

// newestFirst orders by timestamp then id, both descending.
func newestFirst(a, b audit.Event) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}

func matches(e *audit.Event, f audit.Filter) bool {
	if f.OrganizationID != nil && (e.OrganizationID == nil || *e.OrganizationID != *f.OrganizationID) {
		return false
	}
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != nil && e.ResourceID != *f.ResourceID {
		return false
	}
	if len(f.ActionTypes) > 0 && !slices.Contains(f.ActionTypes, e.ActionType) {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		found := false
		for _, s := range []*string{e.ActorName, e.ResourceName, e.OrganizationName} {
			if s != nil && strings.Contains(strings.ToLower(*s), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// clone copies the pointer fields so callers cannot mutate stored events.
func clone(e audit.Event) audit.Event {
	e.ActorID = clonePtr(e.ActorID)
	e.ActorName = clonePtr(e.ActorName)
	e.ActorIP = clonePtr(e.ActorIP)
	e.ResourceName = clonePtr(e.ResourceName)
	e.OrganizationID = clonePtr(e.OrganizationID)
	e.OrganizationName = clonePtr(e.OrganizationName)
	e.FailureReason = clonePtr(e.FailureReason)
	e.CorrelationID = clonePtr(e.CorrelationID)
	e.Details = slices.Clone(e.Details)
	return e
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ audit.Store = (*Store)(nil)

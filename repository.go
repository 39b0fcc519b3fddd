package audit

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/fanengagement/go-audit Store,FallbackSink,ExportLimiter

// Filter defines the search criteria shared by queries and exports. Zero
// values mean "no constraint".
type Filter struct {
	OrganizationID *uuid.UUID
	ActorID        *uuid.UUID
	ResourceType   ResourceType
	ResourceID     *uuid.UUID
	ActionTypes    []ActionType
	Outcome        Outcome
	From           *time.Time // inclusive
	To             *time.Time // exclusive
	Search         string     // substring of actor, resource or organization name
}

// Store is the storage contract the pipeline issues. Implementations never
// update rows.
type Store interface {
	// InsertBatch appends events atomically. Re-inserting an existing id is
	// a no-op.
	InsertBatch(ctx context.Context, events []Event) error
	// DeleteBefore deletes at most limit events with timestamp strictly
	// before cutoff and returns how many it removed.
	DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	// Query returns one page ordered by timestamp descending, plus the total
	// number of matches.
	Query(ctx context.Context, f Filter, offset, limit int) ([]Event, int, error)
	// Stream yields every match ordered by timestamp descending, reading
	// batchSize rows at a time.
	Stream(ctx context.Context, f Filter, batchSize int) iter.Seq2[Event, error]
	// Get returns a single event or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Event, error)
}

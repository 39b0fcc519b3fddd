package pgxaudit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	audit "github.com/fanengagement/go-audit"
)

const columns = `id, occurred_at, actor_id, actor_name, actor_ip, action_type, resource_type, resource_id,
	resource_name, organization_id, organization_name, outcome, failure_reason, details, correlation_id`

const numColumns = 15

// maxInsertRows keeps a multi-row insert well under PostgreSQL's limit of
// 65535 bind parameters.
const maxInsertRows = 1000

// filterClause takes the first nine bind parameters; see filterArgs.
const filterClause = `
	WHERE ($1::UUID IS NULL OR organization_id = $1)
		AND ($2::UUID IS NULL OR actor_id = $2)
		AND ($3::TEXT IS NULL OR resource_type = $3)
		AND ($4::UUID IS NULL OR resource_id = $4)
		AND (cardinality($5::TEXT[]) = 0 OR action_type = ANY($5))
		AND ($6::TEXT IS NULL OR outcome = $6)
		AND ($7::TIMESTAMPTZ IS NULL OR occurred_at >= $7)
		AND ($8::TIMESTAMPTZ IS NULL OR occurred_at < $8)
		AND ($9::TEXT IS NULL OR actor_name ILIKE $9 OR resource_name ILIKE $9 OR organization_name ILIKE $9)`

// StoreOptions tunes the statements issued by the store.
type StoreOptions struct {
	// LockTimeout and StatementTimeout bound each purge batch so retention
	// never holds locks that would stall ingestion.
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db   DB
	opts StoreOptions
}

var _ audit.Store = (*Store)(nil)

// NewStore creates a Store. It accepts any DB implementation
// (*pgxpool.Pool or a test mock).
func NewStore(db DB, opts StoreOptions) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 30 * time.Second
	}
	return &Store{db: db, opts: opts}
}

func (s *Store) InsertBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return inTx(ctx, s.db, nil, func(tx pgx.Tx) error {
		for chunk := range slices.Chunk(events, maxInsertRows) {
			sql, args := insertStatement(chunk)
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("inserting %d audit events: %w", len(chunk), err)
			}
		}
		return nil
	})
}

func insertStatement(events []audit.Event) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO audit.audit_events (")
	b.WriteString(columns)
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(events)*numColumns)
	for i := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range numColumns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*numColumns+c+1)
		}
		b.WriteByte(')')
		args = append(args, eventArgs(&events[i])...)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")
	return b.String(), args
}

func eventArgs(e *audit.Event) []any {
	var details []byte
	if len(e.Details) > 0 {
		details = []byte(e.Details)
	}
	return []any{
		e.ID, e.Timestamp, e.ActorID, e.ActorName, e.ActorIP,
		string(e.ActionType), string(e.ResourceType), e.ResourceID, e.ResourceName,
		e.OrganizationID, e.OrganizationName, string(e.Outcome), e.FailureReason,
		details, e.CorrelationID,
	}
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	settings := map[string]string{
		"lock_timeout":      pgInterval(s.opts.LockTimeout),
		"statement_timeout": pgInterval(s.opts.StatementTimeout),
	}
	var deleted int64
	err := inTx(ctx, s.db, settings, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM audit.audit_events
				WHERE id IN (
					SELECT id FROM audit.audit_events
						WHERE occurred_at < $1
						ORDER BY occurred_at
						LIMIT $2
						FOR UPDATE SKIP LOCKED)`,
			cutoff, limit,
		)
		if err != nil {
			return fmt.Errorf("deleting audit events before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *Store) Query(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Event, int, error) {
	args := append(filterArgs(f), limit, offset)
	rows, err := s.db.Query(ctx,
		`SELECT `+columns+`, count(*) OVER()::INT AS total
			FROM audit.audit_events`+filterClause+`
			ORDER BY occurred_at DESC, id DESC
			LIMIT $10 OFFSET $11`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	items := []audit.Event{}
	var total int
	for rows.Next() {
		e, err := scanEventWithTotal(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning audit event: %w", err)
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating rows: %w", err)
	}

	// The window count is only visible on returned rows.
	if len(items) == 0 && offset > 0 {
		if err := s.db.QueryRow(ctx,
			`SELECT count(*)::INT FROM audit.audit_events`+filterClause, filterArgs(f)...,
		).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("counting audit events: %w", err)
		}
	}

	return items, total, nil
}

// Stream pages through matches with a keyset on (occurred_at, id) so that
// long exports stay cheap and unaffected by concurrent purges.
func (s *Store) Stream(ctx context.Context, f audit.Filter, batchSize int) iter.Seq2[audit.Event, error] {
	if batchSize <= 0 {
		batchSize = 500
	}
	return func(yield func(audit.Event, error) bool) {
		var afterTS *time.Time
		var afterID *uuid.UUID
		for {
			page, err := s.page(ctx, f, afterTS, afterID, batchSize)
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
			last := page[len(page)-1]
			afterTS, afterID = &last.Timestamp, &last.ID
		}
	}
}

func (s *Store) page(ctx context.Context, f audit.Filter, afterTS *time.Time, afterID *uuid.UUID, limit int) ([]audit.Event, error) {
	args := append(filterArgs(f), afterTS, afterID, limit)
	rows, err := s.db.Query(ctx,
		`SELECT `+columns+`
			FROM audit.audit_events`+filterClause+`
				AND ($10::TIMESTAMPTZ IS NULL OR (occurred_at, id) < ($10, $11::UUID))
			ORDER BY occurred_at DESC, id DESC
			LIMIT $12`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("streaming audit events: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*audit.Event, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+columns+` FROM audit.audit_events WHERE id = $1`, id,
	)

	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching audit event by ID: %w", err)
	}
	return e, nil
}

// scanner abstracts pgx.Row and pgx.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanEventWithTotal(s scanner, total *int) (*audit.Event, error) {
	return scanInto(s, total)
}

func scanEvent(s scanner) (*audit.Event, error) {
	return scanInto(s)
}

func scanInto(s scanner, extra ...any) (*audit.Event, error) {
	var e audit.Event
	var action, resource, outcome string
	var details []byte

	dest := []any{
		&e.ID, &e.Timestamp, &e.ActorID, &e.ActorName, &e.ActorIP,
		&action, &resource, &e.ResourceID, &e.ResourceName,
		&e.OrganizationID, &e.OrganizationName, &outcome, &e.FailureReason,
		&details, &e.CorrelationID,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	e.Timestamp = e.Timestamp.UTC()
	e.ActionType = audit.ActionType(action)
	e.ResourceType = audit.ResourceType(resource)
	e.Outcome = audit.Outcome(outcome)
	if len(details) > 0 {
		e.Details = details
	}
	return &e, nil
}

// filterArgs returns the bind parameters for filterClause, in order.
func filterArgs(f audit.Filter) []any {
	actions := make([]string, 0, len(f.ActionTypes))
	for _, a := range f.ActionTypes {
		actions = append(actions, string(a))
	}
	return []any{
		f.OrganizationID,
		f.ActorID,
		nullString(string(f.ResourceType)),
		f.ResourceID,
		actions,
		nullString(string(f.Outcome)),
		f.From,
		f.To,
		nullString(likePattern(f.Search)),
	}
}

// likePattern turns a search term into a substring ILIKE pattern with
// wildcards in the term escaped.
func likePattern(term string) string {
	if term == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// nullString returns nil for empty strings, used for optional SQL filters.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxFailureReasonLength bounds FailureReason, truncation marker included.
	MaxFailureReasonLength = 1000
	// MaxNameLength bounds the denormalized actor, resource and organization
	// names.
	MaxNameLength = 200
	// MaxIPLength fits the longest textual IPv6 address.
	MaxIPLength = 45
	// MaxCorrelationIDLength bounds correlation ids.
	MaxCorrelationIDLength = 128
	// TruncationMarker is appended to a failure reason that was cut.
	TruncationMarker = "...[truncated]"
)

var defaultRedactor = NewRedactor(nil)

// Builder accumulates the fields of an Event and validates them on Build.
// A Builder is not safe for concurrent use.
type Builder struct {
	actor        ActorContext
	action       ActionType
	resourceType ResourceType
	resourceID   uuid.UUID
	resourceName string
	orgID        uuid.UUID
	orgName      string
	outcome      Outcome
	reason       string
	details      map[string]any
	raw          []byte
	correlation  string

	now      func() time.Time
	redactor *Redactor
}

// NewEvent starts a builder using the wall clock and default redaction list.
func NewEvent() *Builder {
	return &Builder{outcome: OutcomeSuccess, now: time.Now, redactor: defaultRedactor}
}

// WithClock overrides the clock used for the event timestamp.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// WithRedactor overrides the sensitive-field list applied to details.
func (b *Builder) WithRedactor(r *Redactor) *Builder {
	if r != nil {
		b.redactor = r
	}
	return b
}

// Actor sets the acting identity.
func (b *Builder) Actor(a ActorContext) *Builder {
	b.actor = a
	return b
}

// System marks the event as system initiated.
func (b *Builder) System() *Builder {
	b.actor = ActorContext{}
	return b
}

// Action sets what was done.
func (b *Builder) Action(a ActionType) *Builder {
	b.action = a
	return b
}

// Resource sets the affected entity. name is a snapshot taken now so the
// record stays readable after the entity is renamed or deleted.
func (b *Builder) Resource(t ResourceType, id uuid.UUID, name string) *Builder {
	b.resourceType = t
	b.resourceID = id
	b.resourceName = name
	return b
}

// Organization sets the owning organization and a snapshot of its name.
func (b *Builder) Organization(id uuid.UUID, name string) *Builder {
	b.orgID = id
	b.orgName = name
	return b
}

// Correlation links the event to the request or job that produced it.
func (b *Builder) Correlation(id string) *Builder {
	b.correlation = id
	return b
}

// Detail adds one structured key/value pair.
func (b *Builder) Detail(key string, value any) *Builder {
	if b.details == nil {
		b.details = make(map[string]any)
	}
	b.details[key] = value
	return b
}

// Details merges m into the structured payload.
func (b *Builder) Details(m map[string]any) *Builder {
	for k, v := range m {
		b.Detail(k, v)
	}
	return b
}

// RawDetails is the escape hatch for pre-serialized payloads. raw must be a
// JSON object; it is still redacted. Structured details set on the builder
// take precedence on key collisions.
func (b *Builder) RawDetails(raw []byte) *Builder {
	b.raw = raw
	return b
}

// Failed sets a Failure outcome with the given reason.
func (b *Builder) Failed(reason string) *Builder { return b.setOutcome(OutcomeFailure, reason) }

// Denied sets a Denied outcome with the given reason.
func (b *Builder) Denied(reason string) *Builder { return b.setOutcome(OutcomeDenied, reason) }

// Partial sets a Partial outcome with the given reason.
func (b *Builder) Partial(reason string) *Builder { return b.setOutcome(OutcomePartial, reason) }

func (b *Builder) setOutcome(o Outcome, reason string) *Builder {
	b.outcome = o
	b.reason = reason
	return b
}

// Build validates the accumulated fields and returns the event. All
// validation problems are reported together.
func (b *Builder) Build() (*Event, error) {
	var errs []error
	if b.action == "" {
		errs = append(errs, fmt.Errorf("%w: actionType", ErrMissingField))
	} else if !b.action.IsValid() {
		errs = append(errs, fmt.Errorf("unknown actionType %q", b.action))
	}
	if b.resourceType == "" {
		errs = append(errs, fmt.Errorf("%w: resourceType", ErrMissingField))
	} else if !b.resourceType.IsValid() {
		errs = append(errs, fmt.Errorf("unknown resourceType %q", b.resourceType))
	}
	if b.resourceID == uuid.Nil {
		errs = append(errs, fmt.Errorf("%w: resourceId", ErrMissingField))
	}
	if !b.outcome.IsValid() {
		errs = append(errs, fmt.Errorf("unknown outcome %q", b.outcome))
	}

	details, err := b.buildDetails()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("building audit event: %w", errors.Join(errs...))
	}

	e := &Event{
		ID:               uuid.New(),
		Timestamp:        b.now().UTC().Truncate(time.Microsecond),
		ActionType:       b.action,
		ResourceType:     b.resourceType,
		ResourceID:       b.resourceID,
		ResourceName:     optString(truncateRunes(b.resourceName, MaxNameLength)),
		OrganizationName: optString(truncateRunes(b.orgName, MaxNameLength)),
		Outcome:          b.outcome,
		Details:          details,
		CorrelationID:    optString(truncateRunes(b.correlation, MaxCorrelationIDLength)),
	}
	if !b.actor.IsSystem() {
		e.ActorID = ptr(b.actor.ID)
	}
	e.ActorName = optString(truncateRunes(b.actor.DisplayName, MaxNameLength))
	e.ActorIP = optString(truncateRunes(b.actor.IPAddress, MaxIPLength))
	if b.orgID != uuid.Nil {
		e.OrganizationID = ptr(b.orgID)
	}
	if b.outcome != OutcomeSuccess {
		e.FailureReason = optString(TruncateReason(b.reason))
	}
	return e, nil
}

func (b *Builder) buildDetails() (json.RawMessage, error) {
	merged, err := parseObject(b.raw)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		return b.redactor.Marshal(b.details)
	}
	for k, v := range b.details {
		merged[k] = v
	}
	return b.redactor.Marshal(merged)
}

// TruncateReason caps s at MaxFailureReasonLength characters, ending a cut
// string with TruncationMarker.
func TruncateReason(s string) string {
	if utf8.RuneCountInString(s) <= MaxFailureReasonLength {
		return s
	}
	keep := MaxFailureReasonLength - utf8.RuneCountInString(TruncationMarker)
	return truncateRunes(s, keep) + TruncationMarker
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

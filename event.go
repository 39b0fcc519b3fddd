package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable audit record. It is created by a Builder and never
// updated afterwards; the only destructive operation is retention purging.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	ActorName *string    `json:"actorName,omitempty"`
	ActorIP   *string    `json:"actorIp,omitempty"`

	ActionType   ActionType   `json:"actionType"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceID   uuid.UUID    `json:"resourceId"`
	ResourceName *string      `json:"resourceName,omitempty"`

	OrganizationID   *uuid.UUID `json:"organizationId,omitempty"`
	OrganizationName *string    `json:"organizationName,omitempty"`

	Outcome       Outcome         `json:"outcome"`
	FailureReason *string         `json:"failureReason,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CorrelationID *string         `json:"correlationId,omitempty"`
}

// Actor returns the event's actor as an ActorContext.
func (e *Event) Actor() ActorContext {
	var a ActorContext
	if e.ActorID != nil {
		a.ID = *e.ActorID
	}
	if e.ActorName != nil {
		a.DisplayName = *e.ActorName
	}
	if e.ActorIP != nil {
		a.IPAddress = *e.ActorIP
	}
	return a
}

// logAttrs is the per-event summary used whenever an event is dropped or
// lost; it never includes details.
func (e *Event) logAttrs() []any {
	attrs := []any{
		"event_id", e.ID,
		"timestamp", e.Timestamp.Format(time.RFC3339Nano),
		"action_type", e.ActionType,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"outcome", e.Outcome,
	}
	if e.ActorID != nil {
		attrs = append(attrs, "actor_id", *e.ActorID)
	}
	if e.OrganizationID != nil {
		attrs = append(attrs, "organization_id", *e.OrganizationID)
	}
	return attrs
}

func ptr[T any](v T) *T { return &v }

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Package audit captures security and governance relevant actions as
// immutable audit events. Producers hand events to a Service which either
// enqueues them for a background batch Persister or writes them synchronously.
// A Purger enforces the retention window and a QueryService exposes filtered,
// role-projected reads and streaming exports.
package audit

import (
	"context"

	"github.com/google/uuid"
)

// ---------- Context propagation ----------

type contextKey struct{ name string }

var (
	actorKey       = contextKey{"audit-actor"}
	correlationKey = contextKey{"audit-correlation-id"}
	skipKey        = contextKey{"skip-audit"}
)

// ActorContext identifies who performed an action. The zero value denotes the
// system itself.
type ActorContext struct {
	ID          uuid.UUID
	DisplayName string
	IPAddress   string
}

// IsSystem reports whether the actor is the system rather than a user.
func (a ActorContext) IsSystem() bool {
	return a.ID == uuid.Nil
}

// WithActor attaches the acting identity to the context.
func WithActor(ctx context.Context, actor ActorContext) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the actor from context. Returns the system actor if absent.
func ActorFrom(ctx context.Context) ActorContext {
	a, _ := ctx.Value(actorKey).(ActorContext)
	return a
}

// WithCorrelationID attaches the triggering request's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom returns the correlation id carried by ctx, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// WithSkipAudit marks the context so that ingestion ignores events logged
// with it (e.g. bulk imports replaying already audited data).
func WithSkipAudit(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey, true)
}

// ShouldSkip reports whether audit should be skipped for this context.
func ShouldSkip(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey).(bool)
	return v
}

// ---------- ActionType ----------

// ActionType is the verb of an audit event.
type ActionType string

const (
	ActionCreated              ActionType = "Created"
	ActionUpdated              ActionType = "Updated"
	ActionDeleted              ActionType = "Deleted"
	ActionStatusChanged        ActionType = "StatusChanged"
	ActionRoleChanged          ActionType = "RoleChanged"
	ActionAuthenticated        ActionType = "Authenticated"
	ActionAuthenticationFailed ActionType = "AuthenticationFailed"
	ActionAuthorizationDenied  ActionType = "AuthorizationDenied"
	ActionAccessed             ActionType = "Accessed"
	ActionExported             ActionType = "Exported"
	ActionPurged               ActionType = "Purged"
)

// IsValid reports whether a is a known action type.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionStatusChanged,
		ActionRoleChanged, ActionAuthenticated, ActionAuthenticationFailed,
		ActionAuthorizationDenied, ActionAccessed, ActionExported, ActionPurged:
		return true
	}
	return false
}

// ---------- ResourceType ----------

// ResourceType is the kind of entity an audit event is about.
type ResourceType string

const (
	ResourceUser          ResourceType = "User"
	ResourceOrganization  ResourceType = "Organization"
	ResourceMembership    ResourceType = "Membership"
	ResourceProposal      ResourceType = "Proposal"
	ResourceVote          ResourceType = "Vote"
	ResourceShare         ResourceType = "Share"
	ResourceShareIssuance ResourceType = "ShareIssuance"
	ResourceWebhook       ResourceType = "Webhook"
	ResourceAuditLog      ResourceType = "AuditLog"
	ResourceSystem        ResourceType = "System"
)

// IsValid reports whether r is a known resource type.
func (r ResourceType) IsValid() bool {
	switch r {
	case ResourceUser, ResourceOrganization, ResourceMembership, ResourceProposal,
		ResourceVote, ResourceShare, ResourceShareIssuance, ResourceWebhook,
		ResourceAuditLog, ResourceSystem:
		return true
	}
	return false
}

// ---------- Outcome ----------

// Outcome classifies the result of an audited attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
	OutcomeDenied  Outcome = "Denied"
	OutcomePartial Outcome = "Partial"
)

// IsValid reports whether o is a known outcome.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeDenied, OutcomePartial:
		return true
	}
	return false
}

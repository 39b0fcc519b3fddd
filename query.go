package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role is the privilege level of a query caller.
type Role string

const (
	RolePlatformAdmin Role = "PlatformAdmin"
	RoleOrgAdmin      Role = "OrgAdmin"
	RoleMember        Role = "Member"
)

// Caller is the authenticated identity issuing a query or export.
type Caller struct {
	Actor   ActorContext
	Role    Role
	AdminOf []uuid.UUID // organizations the caller administers
}

// IsOrgAdmin reports whether c may read organization org's audit trail.
func (c Caller) IsOrgAdmin(org uuid.UUID) bool {
	return c.Role == RolePlatformAdmin || slices.Contains(c.AdminOf, org)
}

type scopeKind int

const (
	scopeAdmin scopeKind = iota + 1
	scopeOrganization
	scopeSelf
)

// Scope selects which projection and server-side restriction apply.
type Scope struct {
	kind scopeKind
	org  uuid.UUID
}

// AdminScope is the platform-wide view: every field except details.
func AdminScope() Scope { return Scope{kind: scopeAdmin} }

// OrganizationScope restricts results to one organization.
func OrganizationScope(org uuid.UUID) Scope { return Scope{kind: scopeOrganization, org: org} }

// SelfScope restricts results to the caller's own actions and hides IPs.
func SelfScope() Scope { return Scope{kind: scopeSelf} }

func (s Scope) String() string {
	switch s.kind {
	case scopeAdmin:
		return "admin"
	case scopeOrganization:
		return "organization"
	case scopeSelf:
		return "self"
	}
	return "invalid"
}

// apply narrows f to what the scope allows to be seen.
func (s Scope) apply(f Filter, c Caller) Filter {
	switch s.kind {
	case scopeOrganization:
		f.OrganizationID = ptr(s.org)
	case scopeSelf:
		f.ActorID = ptr(c.Actor.ID)
	}
	return f
}

// project strips fields the scope must not expose.
func (s Scope) project(e *Event) {
	e.Details = nil
	if s.kind == scopeSelf {
		e.ActorIP = nil
	}
}

// Validate checks enum values, range order and search length.
func (f Filter) Validate() error {
	if f.ResourceType != "" && !f.ResourceType.IsValid() {
		return &FilterError{Field: "resourceType", Reason: fmt.Sprintf("unknown value %q", f.ResourceType)}
	}
	for _, a := range f.ActionTypes {
		if !a.IsValid() {
			return &FilterError{Field: "actionType", Reason: fmt.Sprintf("unknown value %q", a)}
		}
	}
	if f.Outcome != "" && !f.Outcome.IsValid() {
		return &FilterError{Field: "outcome", Reason: fmt.Sprintf("unknown value %q", f.Outcome)}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return &FilterError{Field: "from", Reason: "must not be after to"}
	}
	if utf8.RuneCountInString(f.Search) > MaxNameLength {
		return &FilterError{Field: "search", Reason: fmt.Sprintf("longer than %d characters", MaxNameLength)}
	}
	return nil
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Result is one page of projected events.
type Result struct {
	Items []Event `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"pageSize"`
}

// QueryConfig tunes reads and exports.
type QueryConfig struct {
	MaxExportRange  time.Duration
	ExportBatchSize int
}

const DefaultMaxExportRange = 90 * 24 * time.Hour

// QueryOptions holds the optional collaborators of a QueryService.
type QueryOptions struct {
	Limiter ExportLimiter
	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// QueryService provides read-only, role-projected access to stored events.
// Exports are rate limited per caller and audited.
type QueryService struct {
	store   Store
	svc     *Service
	limiter ExportLimiter
	cfg     QueryConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewQueryService creates a query service. svc records denials and exports.
func NewQueryService(store Store, svc *Service, cfg QueryConfig, opts QueryOptions) *QueryService {
	if cfg.MaxExportRange <= 0 {
		cfg.MaxExportRange = DefaultMaxExportRange
	}
	if cfg.ExportBatchSize <= 0 {
		cfg.ExportBatchSize = 500
	}
	q := &QueryService{
		store:   store,
		svc:     svc,
		limiter: opts.Limiter,
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Search returns one page of events matching f within scope, newest first.
// No matches is an empty page, not an error.
func (q *QueryService) Search(ctx context.Context, c Caller, s Scope, f Filter, p Page) (Result, error) {
	if err := q.authorize(ctx, c, s, "search"); err != nil {
		return Result{}, err
	}
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	f = s.apply(f, c)
	p = p.normalize()

	items, total, err := q.store.Query(ctx, f, (p.Number-1)*p.Size, p.Size)
	if err != nil {
		return Result{}, fmt.Errorf("querying audit events: %w", err)
	}
	if items == nil {
		items = []Event{}
	}
	for i := range items {
		s.project(&items[i])
	}
	return Result{Items: items, Total: total, Page: p.Number, Size: p.Size}, nil
}

// Get returns the full event, details included. Platform admins only.
func (q *QueryService) Get(ctx context.Context, c Caller, id uuid.UUID) (*Event, error) {
	if err := q.authorize(ctx, c, AdminScope(), "get"); err != nil {
		return nil, err
	}
	e, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching audit event %s: %w", id, err)
	}
	return e, nil
}

// authorize checks c against s and records a denial event on failure.
func (q *QueryService) authorize(ctx context.Context, c Caller, s Scope, op string) error {
	allowed := false
	switch s.kind {
	case scopeAdmin:
		allowed = c.Role == RolePlatformAdmin
	case scopeOrganization:
		allowed = c.IsOrgAdmin(s.org)
	case scopeSelf:
		allowed = !c.Actor.IsSystem()
	}
	if allowed {
		return nil
	}

	resType, resID := ResourceAuditLog, AuditLogResourceID
	b := q.svc.New()
	if s.kind == scopeOrganization {
		resType, resID = ResourceOrganization, s.org
		b.Organization(s.org, "")
	}
	q.svc.Emit(ctx, b.
		Actor(c.Actor).
		Action(ActionAuthorizationDenied).
		Resource(resType, resID, "audit log").
		Detail("operation", op).
		Detail("scope", s.String()).
		Denied(fmt.Sprintf("role %q may not %s the %s audit scope", c.Role, op, s)), false)
	return ErrForbidden
}

// AuditLogResourceID identifies the audit log itself as a resource.
var AuditLogResourceID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:fanengagement:audit-log"))

// Package chiware exposes the audit pipeline over HTTP with chi: caller
// authentication, auditing of denied requests, and the query, export and
// health endpoints.
package chiware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	audit "github.com/fanengagement/go-audit"
)

// requestState is shared between DeniedAuditor and the handlers it wraps,
// which see a derived request context that DeniedAuditor cannot read.
type requestState struct {
	audited atomic.Bool

	mu            sync.Mutex
	actor         *audit.ActorContext
	correlationID string
}

type stateKey struct{}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(stateKey{}).(*requestState)
	return s
}

// MarkAudited tells DeniedAuditor that the current request's denial has
// already been recorded. It is a no-op outside DeniedAuditor.
func MarkAudited(ctx context.Context) {
	if s := stateFrom(ctx); s != nil {
		s.audited.Store(true)
	}
}

// RecordIdentity hands the resolved actor and correlation id back to an
// enclosing DeniedAuditor. It is a no-op outside DeniedAuditor.
func RecordIdentity(ctx context.Context, actor audit.ActorContext, correlationID string) {
	s := stateFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.actor = &actor
	s.correlationID = correlationID
	s.mu.Unlock()
}

func (s *requestState) identity() (*audit.ActorContext, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor, s.correlationID
}

// DeniedAuditor records an AuthorizationDenied event for every 401 or 403
// response that no inner handler has already audited. Events go through the
// async path, so the response is never delayed.
func DeniedAuditor(svc *audit.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			state := &requestState{}
			r = r.WithContext(context.WithValue(r.Context(), stateKey{}, state))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status != http.StatusUnauthorized && status != http.StatusForbidden {
				return
			}
			if state.audited.Load() {
				return
			}

			resource, resourceID := ExtractResource(r)
			actor := audit.ActorFrom(r.Context())
			correlationID := audit.CorrelationIDFrom(r.Context())
			if recorded, id := state.identity(); recorded != nil {
				actor = *recorded
				if id != "" {
					correlationID = id
				}
			}
			if actor.IPAddress == "" {
				actor.IPAddress = ExtractIP(r.RemoteAddr)
			}
			if correlationID == "" {
				correlationID = ExtractCorrelationID(r)
			}

			logger.Debug("auditing denied request",
				"status", status, "resource", resource, "actor_id", actor.ID)

			svc.Emit(r.Context(), svc.New().
				Actor(actor).
				Correlation(correlationID).
				Action(audit.ActionAuthorizationDenied).
				Resource(ResourceTypeFor(resource), routeResourceID(r, resourceID), resource).
				Detail("method", r.Method).
				Detail("attemptedAction", string(MethodToAction(r.Method))).
				Detail("statusCode", status).
				Denied(http.StatusText(status)), false)
		})
	}
}

// MethodToAction maps HTTP methods to the action a request attempts.
func MethodToAction(method string) audit.ActionType {
	switch method {
	case http.MethodPost:
		return audit.ActionCreated
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdated
	case http.MethodDelete:
		return audit.ActionDeleted
	default:
		return audit.ActionAccessed
	}
}

// ResourceTypeFor maps the first segment of a route resource onto the audit
// resource taxonomy.
func ResourceTypeFor(resource string) audit.ResourceType {
	first, _, _ := strings.Cut(resource, "/")
	switch first {
	case "users", "me":
		return audit.ResourceUser
	case "organizations", "orgs":
		return audit.ResourceOrganization
	case "memberships":
		return audit.ResourceMembership
	case "proposals":
		return audit.ResourceProposal
	case "votes":
		return audit.ResourceVote
	case "shares":
		return audit.ResourceShare
	case "share-issuances", "issuances":
		return audit.ResourceShareIssuance
	case "webhooks":
		return audit.ResourceWebhook
	case "audit":
		return audit.ResourceAuditLog
	default:
		return audit.ResourceSystem
	}
}

// routeResourceID uses the last URL parameter when it is a UUID, and
// otherwise a stable id derived from the route pattern.
func routeResourceID(r *http.Request, param string) uuid.UUID {
	if id, err := uuid.Parse(param); err == nil {
		return id
	}
	pattern := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		pattern = rctx.RoutePattern()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:fanengagement:route:"+pattern))
}

// ExtractResource derives the resource name and resource ID from the request.
// It uses chi's matched route pattern (e.g. /v1/proposals/{id})
// so the value is stable regardless of the actual ID in the URL.
func ExtractResource(r *http.Request) (resource, resourceID string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/"), "/"), ""
	}

	// Extract last URL param value as resource_id (convention: /{id}).
	params := rctx.URLParams
	if len(params.Values) > 0 {
		resourceID = params.Values[len(params.Values)-1]
	}

	// Build resource from the route pattern, dropping param segments.
	// /v1/organizations/{orgID}/proposals/{id} -> organizations/proposals
	pattern := strings.TrimPrefix(rctx.RoutePattern(), "/v1/")
	parts := strings.Split(pattern, "/")
	clean := parts[:0]
	for _, p := range parts {
		if !strings.HasPrefix(p, "{") && p != "" && p != "*" {
			clean = append(clean, p)
		}
	}
	resource = strings.Join(clean, "/")

	return resource, resourceID
}

// MaxCorrelationIDLength bounds client-supplied correlation ids.
const MaxCorrelationIDLength = audit.MaxCorrelationIDLength

// ExtractCorrelationID returns request correlation id from common headers.
// Values that are too long or contain anything but printable ASCII are
// ignored.
func ExtractCorrelationID(r *http.Request) string {
	for _, h := range []string{"X-Correlation-ID", "X-Request-ID"} {
		if v := r.Header.Get(h); validCorrelationID(v) {
			return v
		}
	}
	return ""
}

func validCorrelationID(v string) bool {
	if v == "" || len(v) > MaxCorrelationIDLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return false
		}
	}
	return true
}

// ExtractIP strips the port from a host:port address.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

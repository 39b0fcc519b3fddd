package chiware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	audit "github.com/fanengagement/go-audit"
)

// ErrUnauthenticated is returned when a request carries no usable credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// CallerExtractor resolves the caller of a request. Each host application
// injects its own implementation; JWTExtractor is the built-in one.
type CallerExtractor func(*http.Request) (audit.Caller, error)

// Claims is the token payload accepted by JWTExtractor.
type Claims struct {
	Name string   `json:"name"`
	Role string   `json:"role"`
	Orgs []string `json:"orgs"`
	jwt.RegisteredClaims
}

// JWTExtractor validates HS256 bearer tokens.
type JWTExtractor struct {
	secret []byte
	issuer string
}

// NewJWTExtractor creates an extractor for tokens signed with secret. An
// empty issuer accepts any issuer.
func NewJWTExtractor(secret []byte, issuer string) *JWTExtractor {
	return &JWTExtractor{secret: secret, issuer: issuer}
}

// Sign issues a token for claims. Used by tooling and tests.
func (x *JWTExtractor) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = x.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(x.secret)
}

// Extract parses the Authorization header into a Caller.
func (x *JWTExtractor) Extract(r *http.Request) (audit.Caller, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return audit.Caller{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if x.issuer != "" {
		opts = append(opts, jwt.WithIssuer(x.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return x.secret, nil
	}, opts...); err != nil {
		return audit.Caller{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return claims.caller()
}

func (c *Claims) caller() (audit.Caller, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return audit.Caller{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}
	role := audit.Role(c.Role)
	switch role {
	case audit.RolePlatformAdmin, audit.RoleOrgAdmin, audit.RoleMember:
	case "":
		role = audit.RoleMember
	default:
		return audit.Caller{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, c.Role)
	}

	caller := audit.Caller{
		Actor: audit.ActorContext{ID: id, DisplayName: c.Name},
		Role:  role,
	}
	for _, o := range c.Orgs {
		org, err := uuid.Parse(o)
		if err != nil {
			return audit.Caller{}, fmt.Errorf("%w: invalid organization %q", ErrUnauthenticated, o)
		}
		caller.AdminOf = append(caller.AdminOf, org)
	}
	return caller, nil
}

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c audit.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (audit.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(audit.Caller)
	return c, ok
}

// authenticationResourceID names the API as the resource of failed logins.
var authenticationResourceID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:fanengagement:api"))

// Authenticate resolves the caller with extract and stores it, together
// with the actor, client IP and correlation id, in the request context.
// Requests without valid credentials get 401 and an AuthenticationFailed
// event.
func Authenticate(svc *audit.Service, extract CallerExtractor, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractIP(r.RemoteAddr)
			correlationID := ExtractCorrelationID(r)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			w.Header().Set("X-Correlation-ID", correlationID)

			ctx := audit.WithCorrelationID(r.Context(), correlationID)

			caller, err := extract(r)
			if err != nil {
				logger.Info("request not authenticated", "path", r.URL.Path, "ip", ip, "error", err)
				svc.Emit(ctx, svc.New().
					Actor(audit.ActorContext{IPAddress: ip}).
					Action(audit.ActionAuthenticationFailed).
					Resource(audit.ResourceSystem, authenticationResourceID, "api").
					Detail("method", r.Method).
					Detail("path", r.URL.Path).
					Failed(err.Error()), false)
				MarkAudited(ctx)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			caller.Actor.IPAddress = ip
			RecordIdentity(ctx, caller.Actor, correlationID)
			ctx = audit.WithActor(ctx, caller.Actor)
			ctx = WithCaller(ctx, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

package chiware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signedRequest(t *testing.T, x *JWTExtractor, claims Claims) *http.Request {
	t.Helper()
	tok, err := x.Sign(claims)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func validClaims(sub uuid.UUID, role audit.Role, orgs ...uuid.UUID) Claims {
	c := Claims{
		Name: "alice",
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	for _, o := range orgs {
		c.Orgs = append(c.Orgs, o.String())
	}
	return c
}

func TestJWTExtractor_ValidToken(t *testing.T) {
	x := NewJWTExtractor(testSecret, "fanengagement")
	sub, org := uuid.New(), uuid.New()

	caller, err := x.Extract(signedRequest(t, x, validClaims(sub, audit.RoleOrgAdmin, org)))
	require.NoError(t, err)

	assert.Equal(t, sub, caller.Actor.ID)
	assert.Equal(t, "alice", caller.Actor.DisplayName)
	assert.Equal(t, audit.RoleOrgAdmin, caller.Role)
	assert.Equal(t, []uuid.UUID{org}, caller.AdminOf)
	assert.True(t, caller.IsOrgAdmin(org))
}

func TestJWTExtractor_Rejects(t *testing.T) {
	x := NewJWTExtractor(testSecret, "fanengagement")
	sub := uuid.New()

	expired := validClaims(sub, audit.RoleMember)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims(sub, audit.RoleMember)
	noExpiry.ExpiresAt = nil

	badSubject := validClaims(sub, audit.RoleMember)
	badSubject.Subject = "alice"

	badRole := validClaims(sub, audit.RoleMember)
	badRole.Role = "root"

	badOrg := validClaims(sub, audit.RoleOrgAdmin)
	badOrg.Orgs = []string{"not-a-uuid"}

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"expired", signedRequest(t, x, expired)},
		{"no expiry", signedRequest(t, x, noExpiry)},
		{"bad subject", signedRequest(t, x, badSubject)},
		{"unknown role", signedRequest(t, x, badRole)},
		{"bad organization", signedRequest(t, x, badOrg)},
		{"other issuer", signedRequest(t, NewJWTExtractor(testSecret, "elsewhere"), validClaims(sub, audit.RoleMember))},
		{"wrong secret", signedRequest(t, NewJWTExtractor([]byte("another-secret-another-secret-00"), "fanengagement"), validClaims(sub, audit.RoleMember))},
		{"no header", httptest.NewRequest(http.MethodGet, "/", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := x.Extract(tt.req)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestJWTExtractor_RejectsOtherAlgorithms(t *testing.T) {
	x := NewJWTExtractor(testSecret, "")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims(uuid.New(), audit.RoleMember)).SignedString(testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, err = x.Extract(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTExtractor_DefaultsToMember(t *testing.T) {
	x := NewJWTExtractor(testSecret, "")
	claims := validClaims(uuid.New(), "")
	caller, err := x.Extract(signedRequest(t, x, claims))
	require.NoError(t, err)
	assert.Equal(t, audit.RoleMember, caller.Role)
}

func TestAuthenticate_StoresCallerAndActor(t *testing.T) {
	p, _ := newTestPipeline(t, audit.Options{})
	x := NewJWTExtractor(testSecret, "")
	sub := uuid.New()

	var gotCaller audit.Caller
	var gotActor audit.ActorContext
	var gotCorrelation string
	r := chi.NewRouter()
	r.Use(Authenticate(p.Service, x.Extract, nil))
	r.Get("/audit/events", func(w http.ResponseWriter, r *http.Request) {
		gotCaller, _ = CallerFrom(r.Context())
		gotActor = audit.ActorFrom(r.Context())
		gotCorrelation = audit.CorrelationIDFrom(r.Context())
	})

	req := signedRequest(t, x, validClaims(sub, audit.RolePlatformAdmin))
	req.RemoteAddr = "203.0.113.9:4444"
	req.Header.Set("X-Request-ID", "req-77")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sub, gotCaller.Actor.ID)
	assert.Equal(t, audit.RolePlatformAdmin, gotCaller.Role)
	assert.Equal(t, "203.0.113.9", gotActor.IPAddress)
	assert.Equal(t, "req-77", gotCorrelation)
	assert.Equal(t, "req-77", rec.Header().Get("X-Correlation-ID"))
	assert.Empty(t, queued(p))
}

func TestAuthenticate_RejectsAndAuditsOnce(t *testing.T) {
	p, _ := newTestPipeline(t, audit.Options{})

	r := chi.NewRouter()
	r.Use(DeniedAuditor(p.Service, nil))
	r.Use(Authenticate(p.Service, func(*http.Request) (audit.Caller, error) {
		return audit.Caller{}, errors.New("token expired")
	}, nil))
	r.Get("/audit/events", func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req.RemoteAddr = "198.51.100.1:1000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"), "a correlation id is generated when absent")

	events := queued(p)
	require.Len(t, events, 1, "the denial auditor must not duplicate the authentication failure")
	e := events[0]
	assert.Equal(t, audit.ActionAuthenticationFailed, e.ActionType)
	assert.Equal(t, audit.OutcomeFailure, e.Outcome)
	assert.Nil(t, e.ActorID)
	require.NotNil(t, e.ActorIP)
	assert.Equal(t, "198.51.100.1", *e.ActorIP)
	require.NotNil(t, e.FailureReason)
	assert.Contains(t, *e.FailureReason, "token expired")
	require.NotNil(t, e.CorrelationID)
	assert.Equal(t, rec.Header().Get("X-Correlation-ID"), *e.CorrelationID)
}

func TestAuthenticate_ForbiddenAfterLoginKeepsActor(t *testing.T) {
	p, _ := newTestPipeline(t, audit.Options{})
	x := NewJWTExtractor(testSecret, "")
	sub := uuid.New()

	r := chi.NewRouter()
	r.Use(DeniedAuditor(p.Service, nil))
	r.Use(Authenticate(p.Service, x.Extract, nil))
	r.Get("/audit/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	req := signedRequest(t, x, validClaims(sub, audit.RoleMember))
	req.RemoteAddr = "203.0.113.20:5000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	events := queued(p)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, audit.ActionAuthorizationDenied, e.ActionType)
	require.NotNil(t, e.ActorID, "the authenticated member must be recorded, not the system actor")
	assert.Equal(t, sub, *e.ActorID)
	require.NotNil(t, e.ActorName)
	assert.Equal(t, "alice", *e.ActorName)
	require.NotNil(t, e.ActorIP)
	assert.Equal(t, "203.0.113.20", *e.ActorIP)
	require.NotNil(t, e.CorrelationID)
	assert.Equal(t, rec.Header().Get("X-Correlation-ID"), *e.CorrelationID)
}

func TestAuthenticate_OversizeCorrelationIDReplaced(t *testing.T) {
	p, _ := newTestPipeline(t, audit.Options{})

	r := chi.NewRouter()
	r.Use(DeniedAuditor(p.Service, nil))
	r.Use(Authenticate(p.Service, func(*http.Request) (audit.Caller, error) {
		return audit.Caller{}, errors.New("no token")
	}, nil))
	r.Get("/audit/events", func(w http.ResponseWriter, r *http.Request) {})

	huge := strings.Repeat("x", 8000)
	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req.Header.Set("X-Correlation-ID", huge)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	echoed := rec.Header().Get("X-Correlation-ID")
	assert.NotEqual(t, huge, echoed)
	_, err := uuid.Parse(echoed)
	assert.NoError(t, err, "a fresh correlation id replaces the oversize one")

	events := queued(p)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].CorrelationID)
	assert.LessOrEqual(t, len(*events[0].CorrelationID), MaxCorrelationIDLength)
	assert.Equal(t, echoed, *events[0].CorrelationID)
}

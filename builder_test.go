package audit_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
)

func TestBuilder_Defaults(t *testing.T) {
	actor := audit.ActorContext{ID: uuid.New(), DisplayName: "alice", IPAddress: "203.0.113.7"}
	resID := uuid.New()
	orgID := uuid.New()
	at := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))

	e, err := audit.NewEvent().
		WithClock(func() time.Time { return at }).
		Actor(actor).
		Action(audit.ActionCreated).
		Resource(audit.ResourceProposal, resID, "Budget 2026").
		Organization(orgID, "Fan Club").
		Correlation("req-1").
		Build()
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.True(t, e.Timestamp.Equal(at.Truncate(time.Microsecond)))
	assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
	assert.Nil(t, e.FailureReason)
	assert.Equal(t, actor.ID, *e.ActorID)
	assert.Equal(t, "alice", *e.ActorName)
	assert.Equal(t, "203.0.113.7", *e.ActorIP)
	assert.Equal(t, resID, e.ResourceID)
	assert.Equal(t, "Budget 2026", *e.ResourceName)
	assert.Equal(t, orgID, *e.OrganizationID)
	assert.Equal(t, "Fan Club", *e.OrganizationName)
	assert.Equal(t, "req-1", *e.CorrelationID)
	assert.Nil(t, e.Details)
}

func TestBuilder_UniqueIDs(t *testing.T) {
	seen := map[uuid.UUID]bool{}
	for range 100 {
		e := testEvent(t)
		require.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}

func TestBuilder_MissingRequiredFields(t *testing.T) {
	_, err := audit.NewEvent().Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, audit.ErrMissingField))
	for _, field := range []string{"actionType", "resourceType", "resourceId"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() *audit.Builder
		want  string
	}{
		{
			name: "nil resource id",
			build: func() *audit.Builder {
				return audit.NewEvent().Action(audit.ActionDeleted).Resource(audit.ResourceVote, uuid.Nil, "")
			},
			want: "resourceId",
		},
		{
			name: "unknown action",
			build: func() *audit.Builder {
				return audit.NewEvent().Action("Launched").Resource(audit.ResourceVote, uuid.New(), "")
			},
			want: "unknown actionType",
		},
		{
			name: "unknown resource type",
			build: func() *audit.Builder {
				return audit.NewEvent().Action(audit.ActionCreated).Resource("Invoice", uuid.New(), "")
			},
			want: "unknown resourceType",
		},
		{
			name: "raw details not an object",
			build: func() *audit.Builder {
				return audit.NewEvent().Action(audit.ActionCreated).Resource(audit.ResourceVote, uuid.New(), "").
					RawDetails([]byte(`"just a string"`))
			},
			want: "raw details must be a JSON object",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuilder_SystemActor(t *testing.T) {
	e, err := audit.NewEvent().System().Action(audit.ActionPurged).
		Resource(audit.ResourceAuditLog, uuid.New(), "").Build()
	require.NoError(t, err)
	assert.Nil(t, e.ActorID)
	assert.Nil(t, e.ActorName)
	assert.Nil(t, e.OrganizationID)
}

func TestBuilder_OutcomeSetters(t *testing.T) {
	tests := []struct {
		name string
		set  func(*audit.Builder) *audit.Builder
		want audit.Outcome
	}{
		{"failed", func(b *audit.Builder) *audit.Builder { return b.Failed("db down") }, audit.OutcomeFailure},
		{"denied", func(b *audit.Builder) *audit.Builder { return b.Denied("not a member") }, audit.OutcomeDenied},
		{"partial", func(b *audit.Builder) *audit.Builder { return b.Partial("2 of 3") }, audit.OutcomePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := audit.NewEvent().Action(audit.ActionUpdated).Resource(audit.ResourceShare, uuid.New(), "")
			e, err := tt.set(b).Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Outcome)
			require.NotNil(t, e.FailureReason)
		})
	}
}

func TestBuilder_FailureReasonTruncation(t *testing.T) {
	long := strings.Repeat("é", 1500)
	e := testEvent(t, func(b *audit.Builder) { b.Failed(long) })

	require.NotNil(t, e.FailureReason)
	assert.Equal(t, audit.MaxFailureReasonLength, utf8.RuneCountInString(*e.FailureReason))
	assert.True(t, strings.HasSuffix(*e.FailureReason, audit.TruncationMarker))

	exact := strings.Repeat("x", audit.MaxFailureReasonLength)
	e = testEvent(t, func(b *audit.Builder) { b.Failed(exact) })
	assert.Equal(t, exact, *e.FailureReason)
}

func TestBuilder_ResourceNameCapped(t *testing.T) {
	e := testEvent(t, func(b *audit.Builder) {
		b.Resource(audit.ResourceProposal, uuid.New(), strings.Repeat("p", 300))
	})
	assert.Equal(t, audit.MaxNameLength, utf8.RuneCountInString(*e.ResourceName))
}

func TestBuilder_ColumnLengthsCapped(t *testing.T) {
	e := testEvent(t, func(b *audit.Builder) {
		b.Actor(audit.ActorContext{
			ID:          uuid.New(),
			DisplayName: strings.Repeat("n", 500),
			IPAddress:   strings.Repeat("1", 100),
		}).Correlation(strings.Repeat("c", 8000))
	})

	require.NotNil(t, e.ActorName)
	assert.Equal(t, audit.MaxNameLength, utf8.RuneCountInString(*e.ActorName))
	require.NotNil(t, e.ActorIP)
	assert.Equal(t, audit.MaxIPLength, utf8.RuneCountInString(*e.ActorIP))
	require.NotNil(t, e.CorrelationID)
	assert.Equal(t, audit.MaxCorrelationIDLength, utf8.RuneCountInString(*e.CorrelationID))

	ipv6 := "ffff:ffff:ffff:ffff:ffff:ffff:255.255.255.255"
	e = testEvent(t, func(b *audit.Builder) {
		b.Actor(audit.ActorContext{ID: uuid.New(), IPAddress: ipv6}).Correlation("req-1")
	})
	assert.Equal(t, ipv6, *e.ActorIP)
	assert.Equal(t, "req-1", *e.CorrelationID)
}

func TestBuilder_DetailsRedacted(t *testing.T) {
	e := testEvent(t, func(b *audit.Builder) {
		b.Detail("title", "Budget").
			Detail("Password", "hunter2").
			Detail("webhook", map[string]any{"url": "https://example.test", "secret": "s3"})
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Details, &got))
	assert.Equal(t, "Budget", got["title"])
	assert.Equal(t, audit.RedactedValue, got["Password"])
	assert.Equal(t, audit.RedactedValue, got["webhook"].(map[string]any)["secret"])
	assert.Equal(t, "https://example.test", got["webhook"].(map[string]any)["url"])
}

func TestBuilder_RawDetailsRedactedAndMerged(t *testing.T) {
	e := testEvent(t, func(b *audit.Builder) {
		b.RawDetails([]byte(`{"token":"abc","count":3,"nested":[{"apiKey":"k"}]}`)).
			Detail("count", 4)
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Details, &got))
	assert.Equal(t, audit.RedactedValue, got["token"])
	assert.EqualValues(t, 4, got["count"])
	nested := got["nested"].([]any)[0].(map[string]any)
	assert.Equal(t, audit.RedactedValue, nested["apiKey"])
	assert.NotContains(t, string(e.Details), "abc")
}

func TestBuilder_TypedDetailsRedacted(t *testing.T) {
	type credentials struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	e := testEvent(t, func(b *audit.Builder) {
		b.Detail("members", []map[string]any{{"password": "m-secret"}}).
			Detail("scopes", map[string]map[string]any{"x": {"token": "t-secret"}}).
			Detail("login", credentials{User: "bob", Password: "c-secret"})
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Details, &got))
	assert.Equal(t, audit.RedactedValue, got["members"].([]any)[0].(map[string]any)["password"])
	assert.Equal(t, audit.RedactedValue, got["scopes"].(map[string]any)["x"].(map[string]any)["token"])
	assert.Equal(t, audit.RedactedValue, got["login"].(map[string]any)["password"])
	assert.Equal(t, "bob", got["login"].(map[string]any)["user"])
	for _, secret := range []string{"m-secret", "t-secret", "c-secret"} {
		assert.NotContains(t, string(e.Details), secret)
	}
}

func TestBuilder_RawDetailsTrailingDataRejected(t *testing.T) {
	_, err := audit.NewEvent().
		Action(audit.ActionCreated).
		Resource(audit.ResourceProposal, uuid.New(), "Budget").
		RawDetails([]byte(`{"a":1} {"password":"leak"}`)).
		Build()
	require.Error(t, err)
}

func TestBuilder_CustomRedactor(t *testing.T) {
	e := testEvent(t, func(b *audit.Builder) {
		b.WithRedactor(audit.NewRedactor([]string{"email"})).
			Detail("email", "a@example.test").
			Detail("password", "kept-by-custom-list")
	})
	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Details, &got))
	assert.Equal(t, audit.RedactedValue, got["email"])
	assert.Equal(t, "kept-by-custom-list", got["password"])
}

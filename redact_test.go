package audit_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
)

func TestRedactor_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"secret": "x", "inner": map[string]any{"token": "y"}}
	out := audit.NewRedactor(nil).Map(in)

	assert.Equal(t, "x", in["secret"])
	assert.Equal(t, "y", in["inner"].(map[string]any)["token"])
	assert.Equal(t, audit.RedactedValue, out["secret"])
	assert.Equal(t, audit.RedactedValue, out["inner"].(map[string]any)["token"])
}

func TestRedactor_CaseInsensitive(t *testing.T) {
	out := audit.NewRedactor([]string{"ApiKey"}).Map(map[string]any{"APIKEY": 1, "apikey": 2, "other": 3})
	assert.Equal(t, audit.RedactedValue, out["APIKEY"])
	assert.Equal(t, audit.RedactedValue, out["apikey"])
	assert.Equal(t, 3, out["other"])
}

func TestRedactor_StringMaps(t *testing.T) {
	out := audit.NewRedactor(nil).Map(map[string]any{
		"headers": map[string]string{"Authorization": "Bearer abc", "Accept": "json"},
	})
	h := out["headers"].(map[string]any)
	assert.Equal(t, audit.RedactedValue, h["Authorization"])
	assert.Equal(t, "json", h["Accept"])
}

type webhookSettings struct {
	URL      string `json:"url"`
	Password string `json:"password"`
	Retries  int    `json:"retries"`
}

func TestRedactor_TypedContainers(t *testing.T) {
	out := audit.NewRedactor(nil).Map(map[string]any{
		"members":  []map[string]any{{"name": "bob", "password": "p1"}, {"password": "p2"}},
		"byRegion": map[string]map[string]any{"eu": {"token": "t1", "count": 2}},
		"webhook":  webhookSettings{URL: "https://example.test", Password: "p3", Retries: 3},
		"hooks":    []webhookSettings{{Password: "p4"}},
	})

	members := out["members"].([]any)
	require.Len(t, members, 2)
	assert.Equal(t, audit.RedactedValue, members[0].(map[string]any)["password"])
	assert.Equal(t, "bob", members[0].(map[string]any)["name"])
	assert.Equal(t, audit.RedactedValue, members[1].(map[string]any)["password"])

	eu := out["byRegion"].(map[string]any)["eu"].(map[string]any)
	assert.Equal(t, audit.RedactedValue, eu["token"])
	assert.Equal(t, json.Number("2"), eu["count"])

	hook := out["webhook"].(map[string]any)
	assert.Equal(t, audit.RedactedValue, hook["password"])
	assert.Equal(t, "https://example.test", hook["url"])
	assert.Equal(t, json.Number("3"), hook["retries"])

	assert.Equal(t, audit.RedactedValue, out["hooks"].([]any)[0].(map[string]any)["password"])

	b, err := json.Marshal(out)
	require.NoError(t, err)
	for _, secret := range []string{"p1", "p2", "p3", "p4", "t1"} {
		assert.NotContains(t, string(b), `"`+secret+`"`)
	}
}

func TestRedactor_RawJSON(t *testing.T) {
	r := audit.NewRedactor(nil)

	out, err := r.RawJSON([]byte(`{"password":"p","amount":12345678901234567890}`))
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &m))
	assert.JSONEq(t, `"[REDACTED]"`, string(m["password"]))
	assert.Equal(t, "12345678901234567890", string(m["amount"]), "large numbers survive")

	out, err = r.RawJSON([]byte("   "))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = r.RawJSON([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestRedactor_RawJSONRejectsTrailingData(t *testing.T) {
	r := audit.NewRedactor(nil)
	for _, raw := range []string{
		`{"a":1} garbage`,
		`{"a":1}{"b":2}`,
		`{"a":1} 2`,
	} {
		_, err := r.RawJSON([]byte(raw))
		assert.Error(t, err, raw)
	}

	out, err := r.RawJSON([]byte("{\"a\":1}\n  "))
	require.NoError(t, err, "trailing whitespace is fine")
	assert.JSONEq(t, `{"a":1}`, string(out))
}

func TestRedactor_EmptyMarshalsToNil(t *testing.T) {
	out, err := audit.NewRedactor(nil).Marshal(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

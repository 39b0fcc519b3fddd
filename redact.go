package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RedactedValue replaces the value of every sensitive field.
const RedactedValue = "[REDACTED]"

// DefaultSensitiveFields is the redaction list used when none is configured.
var DefaultSensitiveFields = []string{
	"password",
	"secret",
	"token",
	"accessToken",
	"refreshToken",
	"apiKey",
	"authorization",
	"privateKey",
	"credential",
}

// Redactor replaces sensitive values in detail payloads before they are
// serialized. Field names match case-insensitively at any nesting depth.
type Redactor struct {
	fields map[string]struct{}
}

// NewRedactor builds a Redactor for the given field names. An empty list
// means DefaultSensitiveFields.
func NewRedactor(fields []string) *Redactor {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}
	r := &Redactor{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			r.fields[f] = struct{}{}
		}
	}
	return r
}

func (r *Redactor) sensitive(key string) bool {
	_, ok := r.fields[strings.ToLower(key)]
	return ok
}

// Map returns a redacted deep copy of m. The input is not modified.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.sensitive(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case map[string]any:
		return r.Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.value(item)
		}
		return out
	default:
		// Typed maps, slices and structs are redacted through their JSON form,
		// which is also what gets stored.
		generic, err := toGeneric(v)
		if err != nil {
			return v
		}
		return r.value(generic)
	}
}

func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal redacts m and serializes it. A nil or empty map yields nil.
func (r *Redactor) Marshal(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(r.Map(m))
	if err != nil {
		return nil, fmt.Errorf("serializing details: %w", err)
	}
	return b, nil
}

// RawJSON parses raw, which must be a single JSON object, redacts it and
// re-serializes it.
func (r *Redactor) RawJSON(raw []byte) (json.RawMessage, error) {
	m, err := parseObject(raw)
	if err != nil {
		return nil, err
	}
	return r.Marshal(m)
}

// parseObject decodes raw as exactly one JSON object, keeping numbers
// verbatim. Blank input yields a nil map.
func parseObject(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("raw details must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("raw details must be a single JSON object: trailing data")
	}
	return m, nil
}

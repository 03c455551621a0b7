package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Fields decodes a JSON object one key at a time without failing on a
// mistyped value. Keys that are unknown, mistyped or only usable after a
// conversion stay in Rest, so writing the object back reproduces what the
// client sent.
type Fields struct {
	rest map[string]json.RawMessage
}

// ParseFields fails only when b is not a JSON object (or null).
func ParseFields(b []byte) (*Fields, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	return &Fields{rest: raw}, nil
}

// String reads key into dst. Numbers and booleans are taken as their
// literal text; anything else leaves dst untouched.
func (f *Fields) String(key string, dst *string) {
	v, ok := f.rest[key]
	if !ok {
		return
	}

	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		*dst = s
		delete(f.rest, key)
		return
	}

	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		*dst = n.String()
		return
	}

	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		*dst = strconv.FormatBool(b)
	}
}

// Float reads key as a number. Numeric strings are accepted. It returns nil
// when the key is missing, null or not a number.
func (f *Fields) Float(key string) *float64 {
	v, ok := f.rest[key]
	if !ok {
		return nil
	}

	var p *float64
	if err := json.Unmarshal(v, &p); err == nil {
		delete(f.rest, key)
		return p
	}

	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return &n
		}
	}
	return nil
}

// Rest returns the keys that were not consumed cleanly, or nil.
func (f *Fields) Rest() map[string]json.RawMessage {
	if len(f.rest) == 0 {
		return nil
	}
	return f.rest
}

// Field decodes key into dst with the default codec. On a type mismatch dst
// is left untouched and the raw value stays in f's Rest.
func Field[T any](f *Fields, key string, dst *T) {
	v, ok := f.rest[key]
	if !ok {
		return
	}

	var t T
	if err := json.Unmarshal(v, &t); err != nil {
		return
	}
	*dst = t
	delete(f.rest, key)
}

// MergeExtra adds extra to the JSON object known. Values in extra win, so a
// field the server could not read is written back as it arrived.
func MergeExtra(known []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, fmt.Errorf("failed to merge extra fields: %w", err)
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(extra))
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

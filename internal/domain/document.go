package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"
)

// Document is the raw stored form of a profile. Values are strings, bools,
// numbers, time.Time, nil, or ServerTimestamp before a store resolves it.
type Document map[string]any

// Patch is a partial update: each key replaces the stored value. A nil value
// writes an explicit null.
type Patch map[string]any

type serverTimestamp struct{}

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return nil, errors.New("unresolved server timestamp")
}

// ServerTimestamp asks the store to write its own current time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Keys returns the patch keys, for logging.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// ResolveTimestamps returns a copy of doc with every ServerTimestamp
// replaced by now.
func ResolveTimestamps(doc Document, now time.Time) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if IsServerTimestamp(v) {
			v = now
		}
		out[k] = v
	}
	return out
}

// ApplyPatch merges patch into a copy of doc, resolving server timestamps
// to now. Keys not named in the patch are carried over untouched.
func ApplyPatch(doc Document, patch Patch, now time.Time) Document {
	out := maps.Clone(doc)
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		if IsServerTimestamp(v) {
			v = now
		}
		out[k] = v
	}
	return out
}

// EncodeDocument serializes a resolved document as JSON.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses a JSON document, keeping numbers as json.Number so
// integer fields can be validated exactly.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

func stringField(doc Document, key string) Field[string] {
	v, ok := doc[key]
	switch {
	case !ok:
		return Field[string]{State: FieldAbsent}
	case v == nil:
		return Field[string]{State: FieldNull}
	}
	s, ok := v.(string)
	if !ok {
		return Field[string]{State: FieldInvalid}
	}
	return Present(s)
}

func boolField(doc Document, key string) Field[bool] {
	v, ok := doc[key]
	switch {
	case !ok:
		return Field[bool]{State: FieldAbsent}
	case v == nil:
		return Field[bool]{State: FieldNull}
	}
	b, ok := v.(bool)
	if !ok {
		return Field[bool]{State: FieldInvalid}
	}
	return Present(b)
}

// countField accepts non-negative integers in any numeric representation a
// backend may produce.
func countField(doc Document, key string) Field[int64] {
	v, ok := doc[key]
	switch {
	case !ok:
		return Field[int64]{State: FieldAbsent}
	case v == nil:
		return Field[int64]{State: FieldNull}
	}
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x > math.MaxInt64 {
			return Field[int64]{State: FieldInvalid}
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return Field[int64]{State: FieldInvalid}
		}
		n = i
	default:
		return Field[int64]{State: FieldInvalid}
	}
	if n < 0 {
		return Field[int64]{State: FieldInvalid}
	}
	return Present(n)
}

func timeField(doc Document, key string) Field[time.Time] {
	v, ok := doc[key]
	switch {
	case !ok:
		return Field[time.Time]{State: FieldAbsent}
	case v == nil:
		return Field[time.Time]{State: FieldNull}
	}
	switch x := v.(type) {
	case time.Time:
		return Present(x)
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return Field[time.Time]{State: FieldInvalid}
		}
		return Present(t)
	}
	return Field[time.Time]{State: FieldInvalid}
}

// Package jsonutil provides a high-performance JSON encoding/decoding
// wrapper for the per-flow hot path. It uses github.com/go-json-experiment/json
// which is 2-3x faster than encoding/json.
//
// The API matches the standard library so call sites read the same.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal returns the JSON encoding of v. Map keys are serialized in
// deterministic order: fingerprints and tapes hash re-encoded documents,
// so the byte form must be stable across runs.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true))
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.Marshal(v, json.Deterministic(true), jsontext.WithIndent(indent))
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}

// UnmarshalRead decodes a single JSON value from r into v.
func UnmarshalRead(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}

// MarshalWrite encodes v to w.
func MarshalWrite(w io.Writer, v any) error {
	return json.MarshalWrite(w, v, json.Deterministic(true))
}

// Document decodes data into the generic map[string]any / []any shape used
// by the body-walking strategies. Returns false when data is not a JSON
// object or array.
func Document(data []byte) (any, bool) {
	var doc any
	if err := Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	switch doc.(type) {
	case map[string]any, []any:
		return doc, true
	default:
		return nil, false
	}
}

// Object decodes data into a JSON object, false when data is anything else.
func Object(data []byte) (map[string]any, bool) {
	doc, ok := Document(data)
	if !ok {
		return nil, false
	}
	obj, ok := doc.(map[string]any)
	return obj, ok
}

package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	in := map[string]any{"a": 1.0, "b": []any{"x", true}}
	data, err := Marshal(in)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestMarshalDeterministic(t *testing.T) {
	// Re-encoded documents feed SHA-256 fingerprints; byte form must be
	// identical across calls.
	doc := map[string]any{"zeta": 1, "alpha": 2, "mid": map[string]any{"b": 1, "a": 2}}
	first, err := Marshal(doc)
	require.NoError(t, err)
	for i := 0; i < 32; i++ {
		again, err := Marshal(doc)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestDocument(t *testing.T) {
	doc, ok := Document([]byte(`{"a":1}`))
	assert.True(t, ok)
	assert.IsType(t, map[string]any{}, doc)

	doc, ok = Document([]byte(`[1,2]`))
	assert.True(t, ok)
	assert.IsType(t, []any{}, doc)

	_, ok = Document([]byte(`"scalar"`))
	assert.False(t, ok)
	_, ok = Document([]byte(`not json`))
	assert.False(t, ok)
	_, ok = Document(nil)
	assert.False(t, ok)
}

func TestObject(t *testing.T) {
	obj, ok := Object([]byte(`{"a":1}`))
	require.True(t, ok)
	assert.Equal(t, 1.0, obj["a"])

	_, ok = Object([]byte(`[1]`))
	assert.False(t, ok)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":[1,2]}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}

package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSortsKeysAndStripsWhitespace(t *testing.T) {
	out, err := JSON(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestJSONNestedAndArrays(t *testing.T) {
	out, err := JSON(map[string]any{
		"x": map[string]any{"z": []any{3, 1, 2}, "y": "s"},
	})
	require.NoError(t, err)
	// Array order is preserved, object keys are sorted at every level.
	assert.Equal(t, `{"x":{"y":"s","z":[3,1,2]}}`, string(out))
}

func TestJSONNoHTMLEscaping(t *testing.T) {
	out, err := JSON(map[string]any{"a": "<redacted>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<redacted>"}`, string(out))
}

func TestHashInvariantUnderKeyOrder(t *testing.T) {
	// Hash must depend only on content, not on source document key order.
	var a, b any
	require.NoError(t, json.Unmarshal([]byte(`{"p":1,"q":{"r":[true,null],"s":"x"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"q":{"s":"x","r":[true,null]},"p":1}`), &b))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, ha)
}

func TestJSONIdempotentOnParsedOutput(t *testing.T) {
	doc := map[string]any{"n": 1.5, "s": "é", "arr": []any{"b", "a"}, "nil": nil}
	first, err := JSON(doc)
	require.NoError(t, err)

	var parsed any
	require.NoError(t, json.Unmarshal(first, &parsed))
	second, err := JSON(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

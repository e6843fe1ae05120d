package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysByteWise(t *testing.T) {
	raw := []byte(`{"b":1,"a":2,"10":3,"2":4}`)
	out, err := MarshalFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"10":3,"2":4,"a":2,"b":1}`, string(out))
}

func TestMarshalMinimalWhitespace(t *testing.T) {
	raw := []byte(`{"a": [1, 2, 3], "b": {"c": true}}`)
	out, err := MarshalFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2,3],"b":{"c":true}}`, string(out))
}

func TestMarshalIntegerPresentation(t *testing.T) {
	raw := []byte(`{"n":1.0}`)
	out, err := MarshalFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(out))
}

func TestMarshalUTF8Passthrough(t *testing.T) {
	raw := []byte(`{"name":"Wötan café"}`)
	out, err := MarshalFromJSON(raw)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Wötan café")
}

// TestIdempotent verifies the invariant from spec.md §8:
// canonicalize(parse(canonicalize(x))) == canonicalize(x).
func TestIdempotent(t *testing.T) {
	inputs := []string{
		`{"b":1,"a":{"z":1,"y":2},"c":[3,2,1]}`,
		`{"signatures":{"@a:h":{"ed25519:DEV":"sig"}},"user_id":"@a:h"}`,
		`{}`,
		`{"empty_array":[],"empty_obj":{}}`,
	}
	for _, in := range inputs {
		once, err := MarshalFromJSON([]byte(in))
		require.NoError(t, err)
		twice, err := MarshalFromJSON(once)
		require.NoError(t, err)
		assert.Equal(t, string(once), string(twice))
	}
}

func TestStripSignatures(t *testing.T) {
	raw := []byte(`{"user_id":"@a:h","signatures":{"@a:h":{"ed25519:DEV":"sig"}}}`)
	out, err := StripSignatures(raw)
	require.NoError(t, err)
	canon, err := MarshalFromJSON(out)
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"@a:h"}`, string(canon))
}

package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsKeys(t *testing.T) {
	in := map[string]interface{}{
		"b": 2,
		"a": 1,
		"c": map[string]interface{}{
			"z": 0,
			"x": 1,
		},
	}
	out, err := JSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":{"x":1,"z":0}}`, string(out))
}

func TestJSON_ExcludesKeysAtEveryLevel(t *testing.T) {
	in := map[string]interface{}{
		"keep": "yes",
		"drop": "no",
		"nested": map[string]interface{}{
			"drop": "also gone",
			"keep": "still here",
		},
	}
	out, err := JSON(in, "drop")
	require.NoError(t, err)
	assert.Equal(t, `{"keep":"yes","nested":{"keep":"still here"}}`, string(out))
}

func TestJSON_PermutationInvariant(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2, "z": 3}
	b := map[string]interface{}{"z": 3, "x": 1, "y": 2}

	outA, err := JSON(a)
	require.NoError(t, err)
	outB, err := JSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(outA), string(outB))
}

func TestJSON_PreservesNonASCII(t *testing.T) {
	in := map[string]interface{}{"msg": "héllo wörld 日本語"}
	out, err := JSON(in)
	require.NoError(t, err)
	assert.Contains(t, string(out), "héllo wörld 日本語")
}

func TestJSON_ArrayOrderPreserved(t *testing.T) {
	in := map[string]interface{}{"items": []interface{}{3, 1, 2}}
	out, err := JSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[3,1,2]}`, string(out))
}

func TestJSON_NoTrailingDotZero(t *testing.T) {
	in := map[string]interface{}{"v": 1}
	out, err := JSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(out))
}

func TestB64URL_RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff, 0x10, 0x20}
	enc := EncodeB64(data)
	assert.NotContains(t, enc, "=")
	dec, err := DecodeB64(enc)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

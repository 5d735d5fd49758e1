package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysankpia/nervusdb/pkg/nverr"
)

func TestCompareNullSortsLargest(t *testing.T) {
	c, err := Compare(Null, Int(1))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = Compare(Int(1), Null)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(Null, Null)
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestCompareMixedNumeric(t *testing.T) {
	c, err := Compare(Int(3), Float(3.5))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(Float(2.0), Int(2))
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestCompareListsLexicographic(t *testing.T) {
	a := List([]Value{Int(1), Int(2)})
	b := List([]Value{Int(1), Int(3)})
	c, err := Compare(a, b)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	shorter := List([]Value{Int(1)})
	c, err = Compare(shorter, a)
	require.NoError(t, err)
	assert.Equal(t, -1, c)
}

func TestCompareIncomparableFailsLoudly(t *testing.T) {
	_, err := Compare(Text("a"), Bool(true))
	require.Error(t, err)
	var ic *ErrIncomparable
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, KindText, ic.A)
	assert.Equal(t, KindBool, ic.B)
}

func TestCodecRoundtrip(t *testing.T) {
	off := -25200
	values := []Value{
		Null,
		Bool(true),
		Bool(false),
		Int(-42),
		Float(3.14159),
		Text("hello, graph"),
		Blob([]byte{0x00, 0x01, 0xff}),
		Duration(90 * time.Minute),
		DateTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), nil),
		DateTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), &off),
		List([]Value{Int(1), Text("x"), Null}),
		Map(map[string]Value{"a": Int(1), "b": Text("two")}),
		List([]Value{
			Map(map[string]Value{"nested": List([]Value{Int(1), Int(2)})}),
		}),
	}

	var codec Codec
	for _, v := range values {
		enc := codec.Encode(nil, v)
		dec, rest, err := codec.Decode(enc)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.True(t, Equal(v, dec), "roundtrip mismatch for %v", v)
	}
}

func TestCodecDecodeTruncated(t *testing.T) {
	var codec Codec
	enc := codec.Encode(nil, Text("hello"))
	_, _, err := codec.Decode(enc[:len(enc)-2])
	require.Error(t, err)
	assert.Equal(t, nverr.Storage, nverr.KindOf(err))
}

func TestCodecMapDeterministicEncoding(t *testing.T) {
	var codec Codec
	m := Map(map[string]Value{"z": Int(1), "a": Int(2), "m": Int(3)})
	enc1 := codec.Encode(nil, m)
	enc2 := codec.Encode(nil, m)
	assert.Equal(t, enc1, enc2)
}

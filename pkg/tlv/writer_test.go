package tlv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPutUintChoosesMinimumWidth exercises the writer's width-selection
// logic across the three encoding boundaries this domain's control
// records actually cross (TTL/hop counts as small uints, message
// counters as larger ones).
func TestPutUintChoosesMinimumWidth(t *testing.T) {
	cases := []struct {
		v    uint64
		want ElementType
	}{
		{0, ElementTypeUInt8},
		{255, ElementTypeUInt8},
		{256, ElementTypeUInt16},
		{65535, ElementTypeUInt16},
		{65536, ElementTypeUInt32},
		{1 << 32, ElementTypeUInt64},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.PutUint(ContextTag(1), c.v))

		r := NewReader(&buf)
		require.NoError(t, r.Next())
		require.Equal(t, c.want, r.Type())
		got, err := r.Uint()
		require.NoError(t, err)
		require.Equal(t, c.v, got)
	}
}

func TestPutIntNegativeValuesRoundTrip(t *testing.T) {
	cases := []int64{-1, -128, -129, -32768, -32769, -1 << 40}
	for _, v := range cases {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.PutInt(ContextTag(2), v))

		r := NewReader(&buf)
		require.NoError(t, r.Next())
		got, err := r.Int()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestPutBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.PutBool(ContextTag(3), v))

		r := NewReader(&buf)
		require.NoError(t, r.Next())
		got, err := r.Bool()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestPutStringRejectsInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.PutString(ContextTag(4), string([]byte{0xff, 0xfe}))
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestPutBytesEmptyRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutBytes(ContextTag(5), nil))

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	got, err := r.Bytes()
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestStructureWithArrayRoundTrips mirrors the shape this repo's own
// wire records actually use: a structure containing scalar fields and
// one array field of fixed-size byte strings (the hop-path lists in
// pkg/router's control records).
func TestStructureWithArrayRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.StartStructure(Anonymous()))
	require.NoError(t, w.PutUint(ContextTag(0), 7))
	require.NoError(t, w.PutString(ContextTag(1), "relay-1"))
	require.NoError(t, w.StartArray(ContextTag(2)))
	for i := byte(0); i < 3; i++ {
		require.NoError(t, w.PutBytes(Anonymous(), bytes.Repeat([]byte{i}, 16)))
	}
	require.NoError(t, w.EndContainer())
	require.NoError(t, w.EndContainer())

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	require.Equal(t, ElementTypeStruct, r.Type())
	require.NoError(t, r.EnterContainer())

	require.NoError(t, r.Next())
	count, err := r.Uint()
	require.NoError(t, err)
	require.Equal(t, uint64(7), count)

	require.NoError(t, r.Next())
	name, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "relay-1", name)

	require.NoError(t, r.Next())
	require.Equal(t, ElementTypeArray, r.Type())
	require.NoError(t, r.EnterContainer())
	for i := byte(0); i < 3; i++ {
		require.NoError(t, r.Next())
		b, err := r.Bytes()
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{i}, 16), b)
	}
	require.NoError(t, r.Next())
	require.True(t, r.IsEndOfContainer())
	require.NoError(t, r.ExitContainer())

	require.NoError(t, r.Next())
	require.True(t, r.IsEndOfContainer())
	require.NoError(t, r.ExitContainer())
}

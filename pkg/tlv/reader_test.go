package tlv

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderNextReturnsEOFAtEndOfInput(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	require.ErrorIs(t, r.Next(), io.EOF)
}

func TestReaderRejectsTruncatedValue(t *testing.T) {
	// UInt32 control byte with only one value byte instead of four.
	r := NewReader(bytes.NewReader([]byte{byte(ElementTypeUInt32), 0x01}))
	require.Error(t, r.Next())
}

func TestReaderTypeMismatchOnWrongAccessor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutUint(Anonymous(), 5))

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	_, err := r.Bool()
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestReaderValueAlreadyReadOnSecondAccess(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutUint(Anonymous(), 5))

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	_, err := r.Uint()
	require.NoError(t, err)
	_, err = r.Uint()
	require.ErrorIs(t, err, ErrValueAlreadyRead)
}

func TestReaderEnterContainerRejectsNonContainer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutUint(Anonymous(), 5))

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	require.ErrorIs(t, r.EnterContainer(), ErrTypeMismatch)
}

func TestReaderExitContainerWithoutEnterFails(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	require.ErrorIs(t, r.ExitContainer(), ErrNotInContainer)
}

// TestReaderSkipUnreadFieldAdvancesPastIt matches how this repo's own
// control-record decoders skip unknown tag numbers: Skip must consume
// exactly the current element, leaving the reader positioned on the
// next one.
func TestReaderSkipUnreadFieldAdvancesPastIt(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.StartStructure(Anonymous()))
	require.NoError(t, w.PutString(ContextTag(9), "unknown field, should be skipped"))
	require.NoError(t, w.PutUint(ContextTag(1), 42))
	require.NoError(t, w.EndContainer())

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	require.NoError(t, r.EnterContainer())

	require.NoError(t, r.Next())
	require.Equal(t, uint32(9), r.Tag().TagNumber())
	require.NoError(t, r.Skip())

	require.NoError(t, r.Next())
	require.Equal(t, uint32(1), r.Tag().TagNumber())
	v, err := r.Uint()
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}

// TestReaderSkipNestedContainer confirms Skip descends into and past a
// nested structure without requiring the caller to enter it.
func TestReaderSkipNestedContainer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.StartStructure(Anonymous()))
	require.NoError(t, w.StartStructure(ContextTag(0)))
	require.NoError(t, w.PutUint(ContextTag(0), 1))
	require.NoError(t, w.EndContainer())
	require.NoError(t, w.PutBool(ContextTag(1), true))
	require.NoError(t, w.EndContainer())

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	require.NoError(t, r.EnterContainer())

	require.NoError(t, r.Next())
	require.Equal(t, ElementTypeStruct, r.Type())
	require.NoError(t, r.Skip())

	require.NoError(t, r.Next())
	require.Equal(t, uint32(1), r.Tag().TagNumber())
	v, err := r.Bool()
	require.NoError(t, err)
	require.True(t, v)
}

func TestReaderRejectsMismatchedContainerLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.StartStructure(Anonymous()))
	require.NoError(t, w.PutUint(ContextTag(0), 1))
	// No EndContainer: the stream truncates mid-structure.

	r := NewReader(&buf)
	require.NoError(t, r.Next())
	require.NoError(t, r.EnterContainer())
	require.NoError(t, r.Next())
	_, err := r.Uint()
	require.NoError(t, err)
	require.ErrorIs(t, r.ExitContainer(), io.EOF)
}

package capnpcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRoundTrip(t *testing.T) {
	_, seg := newTestMessage(t)
	p, err := NewText(seg, "abcdefg")
	require.NoError(t, err)
	s, err := p.Text("")
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", s)
}

func TestTextDefaultOnNull(t *testing.T) {
	var p Ptr
	s, err := p.Text("fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)
}

func TestTextRejectsInvalidUTF8(t *testing.T) {
	_, seg := newTestMessage(t)
	l, err := NewList(seg, sizeByte, 3)
	require.NoError(t, err)
	l.SetUint8(0, 0xff)
	l.SetUint8(1, 0xfe)
	l.SetUint8(2, 0) // terminator
	_, err = l.ToPtr().Text("")
	assert.Error(t, err)
}

func TestTextMissingTerminatorIsError(t *testing.T) {
	_, seg := newTestMessage(t)
	l, err := NewList(seg, sizeByte, 3)
	require.NoError(t, err)
	l.SetUint8(0, 'a')
	l.SetUint8(1, 'b')
	l.SetUint8(2, 'c') // no NUL terminator
	_, err = l.ToPtr().Text("")
	assert.Error(t, err)
}

func TestDataRoundTrip(t *testing.T) {
	_, seg := newTestMessage(t)
	p, err := NewData(seg, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := p.Data(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
}

func TestNullPtrIsNotValid(t *testing.T) {
	var p Ptr
	assert.False(t, p.IsValid())
	assert.False(t, p.Struct().IsValid())
	assert.False(t, p.List().IsValid())
}

// Replacing an in-segment pointer with a far pointer into a new segment
// must produce identical results from typed accessors.
func TestFarPointerTransparency(t *testing.T) {
	msg, seg0 := newTestMessage(t)

	// Segment 0 of a fixed-size, one-word-first arena has no room left
	// beyond the reserved root pointer word, so this struct necessarily
	// lands in a new segment reached only via a far pointer.
	other, err := NewStruct(seg0, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	other.SetUint64(0, 4242, 0)
	assert.NotEqual(t, SegmentID(0), other.seg.ID(), "struct should have landed in a new segment")

	root, err := NewRootStruct(seg0, ObjectSize{PointerCount: 1})
	require.NoError(t, err)
	require.NoError(t, root.SetPtr(0, other.ToPtr()))

	got, err := msg.Root()
	require.NoError(t, err)
	gotStruct := got.Struct()
	field, err := gotStruct.Ptr(0)
	require.NoError(t, err)
	resolved, err := field.StructDefault(ObjectSize{DataSize: 8})
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), resolved.Uint64(0, 0))

	// The pointer slot itself must have been encoded as a far pointer
	// since the target lives in a different segment.
	raw := root.seg.readRawPointer(root.pointerAddress(0))
	assert.Contains(t, []pointerType{farPointer, doubleFarPointer}, raw.pointerType())
}

func TestPtrTotalSize(t *testing.T) {
	_, seg := newTestMessage(t)
	root, err := NewStruct(seg, ObjectSize{DataSize: 8, PointerCount: 1})
	require.NoError(t, err)
	root.SetUint64(0, 1, 0)
	child, err := NewStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	child.SetUint64(0, 2, 0)
	require.NoError(t, root.SetPtr(0, child.ToPtr()))

	n, err := root.ToPtr().TotalSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(2+1), n)
}

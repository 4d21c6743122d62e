package capnpcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSegmentArenaGrowsGeometrically(t *testing.T) {
	msg, seg0 := func() (*Message, *Segment) {
		msg, seg, err := NewMessage(NewMultiSegmentArena(1, GeometricGrowth))
		require.NoError(t, err)
		return msg, seg
	}()

	// Allocating past the first (tiny) segment's capacity should grow the
	// arena rather than erroring.
	_, err := NewStruct(seg0, ObjectSize{DataSize: 64})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, msg.NumSegments(), int64(2))
}

func TestSingleSegmentArenaRejectsNonEmptyBuffer(t *testing.T) {
	assert.Panics(t, func() {
		SingleSegmentArena([]byte{1, 2, 3})
	})
}

func TestSingleSegmentArenaOutOfSpace(t *testing.T) {
	arena := SingleSegmentArena(nil)
	msg, seg, err := NewMessage(arena)
	require.NoError(t, err)
	_, _, err = arena.Allocate(maxSegmentSize, msg, seg)
	assert.Error(t, err)
}

func TestScratchSpaceArena(t *testing.T) {
	scratch := make([]byte, 0, 64)
	arena := NewScratchSpaceArena(scratch)
	msg, seg, err := NewMessage(arena)
	require.NoError(t, err)
	s, err := NewStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	s.SetUint64(0, 1, 0)
	assert.Equal(t, int64(1), msg.NumSegments())
}

func TestReaderArenaRejectsUnalignedSegment(t *testing.T) {
	_, err := NewReaderArena([][]byte{{1, 2, 3}})
	assert.Error(t, err)
}

func TestReaderArenaIsReadOnly(t *testing.T) {
	arena, err := NewReaderArena([][]byte{make([]byte, 8)})
	require.NoError(t, err)
	_, _, err = arena.Allocate(8, nil, nil)
	assert.Error(t, err)
}

package capnpcore

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRootDefaultsToNull(t *testing.T) {
	msg, _ := newTestMessage(t)
	p, err := msg.Root()
	require.NoError(t, err)
	assert.False(t, p.IsValid())
}

func TestMessageSetRootAndRoot(t *testing.T) {
	msg, seg := newTestMessage(t)
	s, err := NewStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	s.SetUint64(0, 999, 0)
	require.NoError(t, msg.SetRoot(s.ToPtr()))

	p, err := msg.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(999), p.Struct().Uint64(0, 0))
}

func TestMessageTraversalLimitCountsWords(t *testing.T) {
	msg, seg := newTestMessage(t)
	root, err := NewRootStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	root.SetUint64(0, 1, 0)

	msg.ResetReadLimit(1) // only one word of budget
	_, err = root.ToPtr().TotalSize()
	assert.NoError(t, err) // exactly one word: root struct is 1 word

	msg.ResetReadLimit(0)
	_, err = root.ToPtr().TotalSize()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read limit exceeded")
}

func TestMessageUnreadCreditsBack(t *testing.T) {
	msg, seg := newTestMessage(t)
	root, err := NewRootStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)

	msg.ResetReadLimit(1)
	_, err = root.ToPtr().TotalSize()
	require.NoError(t, err)
	msg.Unread(1)
	_, err = root.ToPtr().TotalSize()
	assert.NoError(t, err, "credited budget should allow re-reading the same object")
}

func TestDepthLimitExceeded(t *testing.T) {
	_, seg := newTestMessage(t)
	// Build a chain of structs nested deeper than the default depth limit;
	// the decode below uses a much smaller NestingLimit still.
	inner, err := NewStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	inner.SetUint64(0, 1, 0)
	cur := inner
	for i := 0; i < int(defaultDepthLimit)+2; i++ {
		outer, err := NewStruct(seg, ObjectSize{PointerCount: 1})
		require.NoError(t, err)
		require.NoError(t, outer.SetPtr(0, cur.ToPtr()))
		cur = outer
	}

	// Re-read from a decoded (depth-limited) view rather than the builder
	// view, since builder Structs carry maxDepth.
	msg2, seg2 := newTestMessage(t)
	root, err := NewRootStruct(seg2, cur.size)
	require.NoError(t, err)
	require.NoError(t, copyStructData(root, cur))

	encoded, err := msg2.Marshal()
	require.NoError(t, err)
	decoded, err := Decode(bytes.NewReader(encoded), ReaderOptions{NestingLimit: 4})
	require.NoError(t, err)
	p, err := decoded.Root()
	require.NoError(t, err)

	var walkErr error
	s := p.Struct()
	for i := 0; i < int(defaultDepthLimit)+2; i++ {
		next, err := s.Ptr(0)
		if err != nil {
			walkErr = err
			break
		}
		s = next.Struct()
		if !s.IsValid() {
			break
		}
	}
	assert.Error(t, walkErr)
	assert.Contains(t, walkErr.Error(), "depth limit exceeded")
}

func TestMarshalDecodeRoundTrip(t *testing.T) {
	msg, seg := newTestMessage(t)
	root, err := NewRootStruct(seg, ObjectSize{DataSize: 8, PointerCount: 1})
	require.NoError(t, err)
	root.SetUint64(0, 0x0102030405060708, 0)
	text, err := NewText(seg, "round trip")
	require.NoError(t, err)
	require.NoError(t, root.SetPtr(0, text))

	buf, err := msg.Marshal()
	require.NoError(t, err)

	decoded, err := Decode(bytes.NewReader(buf), ReaderOptions{})
	require.NoError(t, err)
	p, err := decoded.Root()
	require.NoError(t, err)
	s := p.Struct()
	assert.Equal(t, uint64(0x0102030405060708), s.Uint64(0, 0))
	tp, err := s.Ptr(0)
	require.NoError(t, err)
	str, err := tp.Text("")
	require.NoError(t, err)
	assert.Equal(t, "round trip", str)
}

// TestSegmentTableFraming checks that a framed message's segment table
// reports its segment count and lengths, and that typed root access
// recovers the encoded text field.
func TestSegmentTableFraming(t *testing.T) {
	msg, seg := newTestMessage(t)
	p, err := NewText(seg, "abcdefg")
	require.NoError(t, err)
	require.NoError(t, msg.SetRoot(p))

	buf, err := msg.Marshal()
	require.NoError(t, err)

	segCount := binary.LittleEndian.Uint32(buf[:4]) + 1
	assert.GreaterOrEqual(t, segCount, uint32(1))

	decoded, err := Decode(bytes.NewReader(buf), ReaderOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(segCount), decoded.NumSegments())
	root, err := decoded.Root()
	require.NoError(t, err)
	s, err := root.Text("")
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", s)
}

// A message whose declared segment length vastly exceeds the traversal
// limit must be rejected while parsing the segment table, without the
// decoder ever attempting to read that many bytes from the stream.
func TestTraversalLimitRejectsOversizedSegmentTable(t *testing.T) {
	var hdr bytes.Buffer
	binary.Write(&hdr, binary.LittleEndian, uint32(0))          // segment_count_minus_one = 0
	binary.Write(&hdr, binary.LittleEndian, uint32(1<<29))      // segment 0: 2^29 words claimed
	r := &explodingReader{Reader: bytes.NewReader(hdr.Bytes())}

	_, err := Decode(r, ReaderOptions{TraversalLimitInWords: 8 * 1024 * 1024})
	require.Error(t, err)
	assert.False(t, r.readPastHeader)
}

// explodingReader fails the test if anything beyond the 8-byte segment
// table header is read, proving the decoder rejects the oversized
// declaration before attempting to fetch the (nonexistent) body.
type explodingReader struct {
	*bytes.Reader
	readPastHeader bool
}

func (r *explodingReader) Read(p []byte) (int, error) {
	if r.Reader.Len() == 0 {
		r.readPastHeader = true
		return 0, io.EOF
	}
	return r.Reader.Read(p)
}

// A root list pointer advertising an enormous element count must be
// rejected by the traversal limit on the first accessor, without the
// reader doing work proportional to the claimed size.
func TestHugeListClaimFailsReadLimit(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // one segment
	binary.Write(&buf, binary.LittleEndian, uint32(4)) // four words
	// Byte-element list claiming 2^29-1 elements at offset 0.
	raw := uint64(1) | uint64(2)<<32 | uint64(1<<29-1)<<35
	binary.Write(&buf, binary.LittleEndian, raw)
	buf.Write(make([]byte, 24))

	msg, err := Decode(bytes.NewReader(buf.Bytes()), ReaderOptions{TraversalLimitInWords: 8 * 1024 * 1024})
	require.NoError(t, err)
	_, err = msg.Root()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read limit exceeded")
}

func TestFailFastRejectsCorruptRootAtDecode(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // one segment
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // one word
	// Root struct pointer whose offset points far outside the segment.
	raw := uint64(uint32(1000)<<2) | uint64(1)<<32
	binary.Write(&buf, binary.LittleEndian, raw)

	_, err := Decode(bytes.NewReader(buf.Bytes()), ReaderOptions{FailFast: true})
	assert.Error(t, err)

	// Without FailFast the same bytes decode, deferring the error to the
	// first accessor.
	msg, err := Decode(bytes.NewReader(buf.Bytes()), ReaderOptions{})
	require.NoError(t, err)
	_, err = msg.Root()
	assert.Error(t, err)
}

func TestDecodeFromBufferNoAlloc(t *testing.T) {
	msg, seg := newTestMessage(t)
	p, err := NewText(seg, "no alloc")
	require.NoError(t, err)
	require.NoError(t, msg.SetRoot(p))
	buf, err := msg.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeFromBuffer(buf, ReaderOptions{})
	require.NoError(t, err)
	root, err := decoded.Root()
	require.NoError(t, err)
	s, err := root.Text("")
	require.NoError(t, err)
	assert.Equal(t, "no alloc", s)
}

func TestDecodeFromBufferRejectsTruncated(t *testing.T) {
	_, err := DecodeFromBuffer([]byte{1, 2, 3}, ReaderOptions{})
	assert.Error(t, err)
}

func TestMarshalPackedDecodePackedRoundTrip(t *testing.T) {
	msg, seg := newTestMessage(t)
	root, err := NewRootStruct(seg, ObjectSize{DataSize: 16, PointerCount: 1})
	require.NoError(t, err)
	root.SetUint64(0, 77, 0)
	// Second data word left zero so the packed form actually compresses.
	text, err := NewText(seg, "packed")
	require.NoError(t, err)
	require.NoError(t, root.SetPtr(0, text))

	plain, err := msg.Marshal()
	require.NoError(t, err)
	packedBuf, err := msg.MarshalPacked()
	require.NoError(t, err)
	assert.Less(t, len(packedBuf), len(plain), "zero-heavy message should shrink when packed")

	decoded, err := DecodePacked(bytes.NewReader(packedBuf), ReaderOptions{})
	require.NoError(t, err)
	p, err := decoded.Root()
	require.NoError(t, err)
	s := p.Struct()
	assert.Equal(t, uint64(77), s.Uint64(0, 0))
	tp, err := s.Ptr(0)
	require.NoError(t, err)
	str, err := tp.Text("")
	require.NoError(t, err)
	assert.Equal(t, "packed", str)
}

func TestMessageTotalSize(t *testing.T) {
	msg, seg := newTestMessage(t)
	_, err := NewRootStruct(seg, ObjectSize{DataSize: 8})
	require.NoError(t, err)
	n, err := msg.TotalSize()
	require.NoError(t, err)
	buf, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(buf)), n)
}

package capnpcore

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cloudflare/capnpcore/exc"
	"github.com/cloudflare/capnpcore/internal/str"
	"github.com/cloudflare/capnpcore/packed"
)

// streamHeaderSize returns the number of bytes the segment-table header
// occupies for a message whose last segment id is lastSeg: a 4-byte
// segment count followed by one 4-byte length per segment, padded to a
// word boundary.
func streamHeaderSize(lastSeg SegmentID) uint64 {
	n := uint64(lastSeg) + 1
	return (n + 2) &^ 1 * 4
}

// MarshalInto concatenates m's segments into a single framed byte slice,
// appending to buf (which may be nil). The output begins with a segment
// table: a little-endian uint32 segment count minus one, followed by one
// little-endian uint32 word-count per segment, zero-padded to a whole
// number of words, followed by the segments themselves.
func (m *Message) MarshalInto(buf []byte) ([]byte, error) {
	nsegs := m.NumSegments()
	if nsegs == 0 {
		return nil, errors.New("capnp: marshal: message has no segments")
	}
	if nsegs > maxStreamSegments {
		return nil, errors.New("capnp: marshal: too many segments")
	}
	hdrSize := streamHeaderSize(SegmentID(nsegs - 1))
	var dataSize uint64
	for i := int64(0); i < nsegs; i++ {
		s, err := m.Segment(SegmentID(i))
		if err != nil {
			return nil, exc.WrapError("marshal", err)
		}
		n := uint64(len(s.data))
		if n%uint64(wordSize) != 0 {
			return nil, errors.New("capnp: marshal: segment " + str.Itod(i) + " is not word-aligned")
		}
		dataSize += n
	}
	total := hdrSize + dataSize
	if total > uint64(maxInt) {
		return nil, errors.New("capnp: marshal: message too large")
	}
	if buf == nil {
		buf = make([]byte, 0, int(total))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(nsegs-1))
	for i := int64(0); i < nsegs; i++ {
		s, _ := m.Segment(SegmentID(i))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.data)/int(wordSize)))
	}
	if nsegs%2 == 0 {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	for i := int64(0); i < nsegs; i++ {
		s, _ := m.Segment(SegmentID(i))
		buf = append(buf, s.data...)
	}
	return buf, nil
}

// Marshal returns m framed as a stand-alone byte slice.
func (m *Message) Marshal() ([]byte, error) {
	return m.MarshalInto(nil)
}

// WriteTo writes m's framed encoding to w, implementing io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	buf, err := m.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// MarshalPacked returns m's framed encoding with the packed byte codec
// applied on top.
func (m *Message) MarshalPacked() ([]byte, error) {
	buf, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return packed.Pack(make([]byte, 0, len(buf)/2), buf), nil
}

// WritePackedTo writes m's packed, framed encoding to w.
func (m *Message) WritePackedTo(w io.Writer) (int64, error) {
	buf, err := m.MarshalPacked()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// DecodePacked parses a single packed, framed message from r, enforcing
// the same segment-count and traversal-limit ceilings as Decode.
func DecodePacked(r io.Reader, opts ReaderOptions) (*Message, error) {
	return Decode(packed.NewReader(r), opts)
}

// Decode parses a single framed message from r, honoring opts' security
// limits while reading the segment table.
func Decode(r io.Reader, opts ReaderOptions) (*Message, error) {
	var first [8]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, errors.Wrap(err, "capnp: decode: read segment count")
	}
	segCount := uint64(binary.LittleEndian.Uint32(first[:4])) + 1
	if segCount > maxStreamSegments {
		return nil, exc.Failed("too many segments (%d)", segCount)
	}
	seg0Size := uint64(binary.LittleEndian.Uint32(first[4:8]))

	sizes := make([]uint64, segCount)
	sizes[0] = seg0Size
	total := seg0Size
	if segCount > 1 {
		extra := make([]byte, ((segCount-1+1)&^1)*4)
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, errors.Wrap(err, "capnp: decode: read segment table")
		}
		for i := uint64(0); i < segCount-1; i++ {
			sz := uint64(binary.LittleEndian.Uint32(extra[i*4 : i*4+4]))
			sizes[i+1] = sz
			total += sz
		}
	}

	limit := opts.traversalLimit()
	if total > limit {
		return nil, exc.Failed("message is too large (%d words); increase ReaderOptions.TraversalLimitInWords to allow it", total)
	}

	buf := make([]byte, total*uint64(wordSize))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "capnp: decode: read segments")
	}
	data := make([][]byte, segCount)
	var off uint64
	for i, sz := range sizes {
		n := sz * uint64(wordSize)
		data[i] = buf[off : off+n]
		off += n
	}
	arena, err := NewReaderArena(data)
	if err != nil {
		return nil, exc.WrapError("decode", err)
	}
	return newDecodedMessageChecked(arena, opts)
}

// newDecodedMessageChecked wraps arena as a Message, eagerly validating the
// root pointer when opts.FailFast is set so a corrupt root surfaces from
// the decode call instead of the first accessor. The traversal budget spent
// on the eager check is restored.
func newDecodedMessageChecked(arena *ReaderArena, opts ReaderOptions) (*Message, error) {
	m := NewDecodedMessage(arena, opts)
	if opts.FailFast {
		if _, err := m.Root(); err != nil {
			return nil, exc.WrapError("decode", err)
		}
		m.ResetReadLimit(opts.traversalLimit())
	}
	return m, nil
}

// DecodeFromBuffer parses a single framed message whose bytes already live
// in src, slicing segments directly out of src instead of copying them.
// The caller owns the buffer and it must outlive the returned Message. It
// still enforces the segment-count and traversal-limit ceilings that
// Decode does.
func DecodeFromBuffer(src []byte, opts ReaderOptions) (*Message, error) {
	if len(src) < 8 {
		return nil, exc.Failed("buffer too short for a segment table")
	}
	segCount := uint64(binary.LittleEndian.Uint32(src[:4])) + 1
	if segCount > maxStreamSegments {
		return nil, exc.Failed("too many segments (%d)", segCount)
	}
	hdrSize := int(streamHeaderSize(SegmentID(segCount - 1)))
	if len(src) < hdrSize {
		return nil, exc.Failed("buffer too short for its segment table")
	}
	sizes := make([]uint64, segCount)
	var total uint64
	for i := uint64(0); i < segCount; i++ {
		sz := uint64(binary.LittleEndian.Uint32(src[4+4*i : 8+4*i]))
		sizes[i] = sz
		total += sz
	}
	limit := opts.traversalLimit()
	if total > limit {
		return nil, exc.Failed("message is too large (%d words); increase ReaderOptions.TraversalLimitInWords to allow it", total)
	}
	need := uint64(hdrSize) + total*uint64(wordSize)
	if uint64(len(src)) < need {
		return nil, exc.Failed("buffer too short for its declared segments")
	}
	data := make([][]byte, segCount)
	off := uint64(hdrSize)
	for i, sz := range sizes {
		n := sz * uint64(wordSize)
		data[i] = src[off : off+n : off+n]
		off += n
	}
	arena, err := NewReaderArena(data)
	if err != nil {
		return nil, exc.WrapError("decode", err)
	}
	return newDecodedMessageChecked(arena, opts)
}

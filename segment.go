package capnpcore

import "encoding/binary"

// A SegmentID is a numeric identifier for a Segment, unique within a
// Message.
type SegmentID uint32

// A Segment is a contiguous, 8-byte-aligned region of a Message: readers
// see it as an immutable byte slice, builders see it as a slice with a
// bump-allocation cursor living in its owning Arena.
type Segment struct {
	msg  *Message
	id   SegmentID
	data []byte
}

// Message returns the message that contains s.
func (s *Segment) Message() *Message {
	return s.msg
}

// ID returns the segment's id.
func (s *Segment) ID() SegmentID {
	return s.id
}

// Data returns the raw bytes backing the segment.
func (s *Segment) Data() []byte {
	return s.data
}

// Len returns the number of bytes currently in use in the segment.
func (s *Segment) Len() int {
	return len(s.data)
}

func (s *Segment) inBounds(addr Address) bool {
	return addr < Address(len(s.data))
}

// regionInBounds reports whether the byte range [base, base+sz) lies
// entirely within the segment.
func (s *Segment) regionInBounds(base Address, sz Size) bool {
	end, ok := base.addSize(sz)
	if !ok {
		return false
	}
	return end <= Address(len(s.data))
}

// slice returns the segment bytes from base to base+sz. Callers must bounds
// check first; slice panics on an out-of-range region, which should never
// be reachable from decoded input.
func (s *Segment) slice(base Address, sz Size) []byte {
	return s.data[base : base+Address(sz)]
}

func (s *Segment) readUint8(addr Address) uint8 {
	return s.slice(addr, 1)[0]
}

func (s *Segment) readUint16(addr Address) uint16 {
	return binary.LittleEndian.Uint16(s.slice(addr, 2))
}

func (s *Segment) readUint32(addr Address) uint32 {
	return binary.LittleEndian.Uint32(s.slice(addr, 4))
}

func (s *Segment) readUint64(addr Address) uint64 {
	return binary.LittleEndian.Uint64(s.slice(addr, 8))
}

func (s *Segment) readRawPointer(addr Address) rawPointer {
	return rawPointer(s.readUint64(addr))
}

func (s *Segment) writeUint8(addr Address, v uint8) {
	s.slice(addr, 1)[0] = v
}

func (s *Segment) writeUint16(addr Address, v uint16) {
	binary.LittleEndian.PutUint16(s.slice(addr, 2), v)
}

func (s *Segment) writeUint32(addr Address, v uint32) {
	binary.LittleEndian.PutUint32(s.slice(addr, 4), v)
}

func (s *Segment) writeUint64(addr Address, v uint64) {
	binary.LittleEndian.PutUint64(s.slice(addr, 8), v)
}

func (s *Segment) writeRawPointer(addr Address, v rawPointer) {
	s.writeUint64(addr, uint64(v))
}

// root returns the segment's root pointer slot as a one-element pointer
// list. Only meaningful for segment 0.
func (s *Segment) root() (PointerList, bool) {
	sz := ObjectSize{PointerCount: 1}
	if !s.regionInBounds(0, sz.totalSize()) {
		return PointerList{}, false
	}
	return PointerList(List{
		seg:        s,
		length:     1,
		size:       sz,
		depthLimit: s.msg.depthLimit(),
	}), true
}

func (s *Segment) lookupSegment(id SegmentID) (*Segment, error) {
	if s.id == id {
		return s, nil
	}
	return s.msg.Segment(id)
}

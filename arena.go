package capnpcore

import (
	"github.com/pkg/errors"
)

// An Arena backs a Message's segments. Readers use an Arena populated from
// decoded bytes; builders use an Arena that allocates and grows segments
// on demand.
type Arena interface {
	// NumSegments returns the number of segments currently in the arena.
	NumSegments() int64
	// Segment returns the segment with the given id, or nil if it does not
	// exist.
	Segment(id SegmentID) *Segment
	// Allocate reserves sz zero-filled bytes, preferring pref if it has
	// room, and returns the segment and offset at which they were
	// reserved. pref may be nil.
	Allocate(sz Size, msg *Message, pref *Segment) (*Segment, Address, error)
	// Release frees any resources held by the arena. Segments obtained
	// before Release must not be used afterward.
	Release()
}

// GrowthStrategy selects how a multi-segment arena grows when a preferred
// segment runs out of room.
type GrowthStrategy int

const (
	// FixedSize allocates each new segment at exactly firstSegmentWords
	// (or the requested size, if larger).
	FixedSize GrowthStrategy = iota
	// GeometricGrowth doubles the "next size" hint on every new segment
	// allocation, so a message that keeps growing allocates geometrically
	// fewer, larger segments over time.
	GeometricGrowth
)

// MultiSegmentArena is a builder Arena that allocates new segments as
// needed, governed by a GrowthStrategy.
type MultiSegmentArena struct {
	segments  []*Segment
	strategy  GrowthStrategy
	nextSize  Size
	firstSize Size
}

// NewMultiSegmentArena returns an empty builder Arena whose first segment
// will be at least firstSegmentWords words, growing according to strategy.
func NewMultiSegmentArena(firstSegmentWords Size, strategy GrowthStrategy) *MultiSegmentArena {
	if firstSegmentWords == 0 {
		firstSegmentWords = 1
	}
	first := firstSegmentWords * wordSize
	return &MultiSegmentArena{
		strategy:  strategy,
		nextSize:  first,
		firstSize: first,
	}
}

func (a *MultiSegmentArena) NumSegments() int64 {
	return int64(len(a.segments))
}

func (a *MultiSegmentArena) Segment(id SegmentID) *Segment {
	if int64(id) >= int64(len(a.segments)) {
		return nil
	}
	return a.segments[id]
}

func (a *MultiSegmentArena) Release() {
	a.segments = nil
}

func (a *MultiSegmentArena) Allocate(sz Size, msg *Message, pref *Segment) (*Segment, Address, error) {
	if pref != nil {
		if addr, ok := a.allocateIn(pref, sz); ok {
			return pref, addr, nil
		}
	}
	// Try existing segments before growing, mirroring how real arenas
	// avoid leaving holes behind a full "current" segment.
	for _, s := range a.segments {
		if s == pref {
			continue
		}
		if addr, ok := a.allocateIn(s, sz); ok {
			return s, addr, nil
		}
	}
	return a.addSegment(sz, msg)
}

func (a *MultiSegmentArena) allocateIn(s *Segment, sz Size) (Address, bool) {
	avail := Size(cap(s.data) - len(s.data))
	if avail < sz {
		return 0, false
	}
	addr := Address(len(s.data))
	s.data = s.data[:len(s.data)+int(sz)]
	for i := int(addr); i < int(addr)+int(sz); i++ {
		s.data[i] = 0
	}
	return addr, true
}

func (a *MultiSegmentArena) addSegment(sz Size, msg *Message) (*Segment, Address, error) {
	alloc := a.nextSize
	if alloc < sz {
		alloc = sz
	}
	if alloc > maxSegmentSize {
		if sz > maxSegmentSize {
			return nil, 0, errors.New("capnp: segment allocation too large")
		}
		alloc = sz
	}
	switch a.strategy {
	case GeometricGrowth:
		next := a.nextSize * 2
		if next < a.nextSize { // overflow
			next = maxSegmentSize
		}
		a.nextSize = next
	default:
		a.nextSize = a.firstSize
	}
	seg := &Segment{
		msg:  msg,
		id:   SegmentID(len(a.segments)),
		data: make([]byte, sz, alloc),
	}
	a.segments = append(a.segments, seg)
	return seg, 0, nil
}

// SingleSegmentArena is a builder Arena restricted to a single segment
// that grows on the heap as needed, useful for messages that must stay in
// one segment (canonical form, for instance, requires exactly one).
func SingleSegmentArena(b []byte) Arena {
	if len(b) != 0 {
		panic("capnp: SingleSegmentArena requires an empty buffer")
	}
	return &singleSegmentArena{seg: &Segment{data: b}}
}

type singleSegmentArena struct {
	seg *Segment
}

func (a *singleSegmentArena) NumSegments() int64 { return 1 }

func (a *singleSegmentArena) Segment(id SegmentID) *Segment {
	if id != 0 {
		return nil
	}
	return a.seg
}

func (a *singleSegmentArena) Release() {}

func (a *singleSegmentArena) Allocate(sz Size, msg *Message, pref *Segment) (*Segment, Address, error) {
	used := Size(len(a.seg.data))
	if sz > maxSegmentSize || used > maxSegmentSize-sz {
		return nil, 0, errors.New("capnp: single-segment arena out of space")
	}
	if Size(cap(a.seg.data))-used < sz {
		// Grow on the heap, at least doubling so repeated small
		// allocations amortize.
		newCap := Size(cap(a.seg.data)) * 2
		if newCap < used+sz {
			newCap = used + sz
		}
		if newCap > maxSegmentSize {
			newCap = maxSegmentSize
		}
		buf := make([]byte, used, newCap)
		copy(buf, a.seg.data)
		a.seg.data = buf
	}
	addr := Address(used)
	a.seg.data = a.seg.data[:used+sz]
	for i := int(addr); i < len(a.seg.data); i++ {
		a.seg.data[i] = 0
	}
	a.seg.msg = msg
	return a.seg, addr, nil
}

// ScratchSpaceArena is a single-segment Arena whose backing buffer is
// caller-owned (stack, a reused buffer, a sync.Pool slot). The buffer's
// length must be zero; its capacity bounds how much may be allocated
// before the arena fails rather than growing. The scratch buffer is
// zeroed up to the high-water mark on first use.
type ScratchSpaceArena struct {
	seg *Segment
}

// NewScratchSpaceArena wraps scratch (whose length must be zero) as a
// fixed-capacity single-segment arena.
func NewScratchSpaceArena(scratch []byte) *ScratchSpaceArena {
	if len(scratch) != 0 {
		panic("capnp: ScratchSpaceArena requires a zero-length buffer")
	}
	return &ScratchSpaceArena{seg: &Segment{data: scratch}}
}

func (a *ScratchSpaceArena) NumSegments() int64 { return 1 }

func (a *ScratchSpaceArena) Segment(id SegmentID) *Segment {
	if id != 0 {
		return nil
	}
	return a.seg
}

func (a *ScratchSpaceArena) Release() {}

func (a *ScratchSpaceArena) Allocate(sz Size, msg *Message, pref *Segment) (*Segment, Address, error) {
	avail := Size(cap(a.seg.data) - len(a.seg.data))
	if avail < sz {
		return nil, 0, errors.New("capnp: scratch space exhausted")
	}
	addr := Address(len(a.seg.data))
	a.seg.data = a.seg.data[:len(a.seg.data)+int(sz)]
	for i := int(addr); i < len(a.seg.data); i++ {
		a.seg.data[i] = 0
	}
	a.seg.msg = msg
	return a.seg, addr, nil
}

// ReaderArena wraps a fixed, already-populated set of segments for
// decoding. It never allocates.
type ReaderArena struct {
	segments []*Segment
}

// NewReaderArena builds a read-only Arena from pre-sliced segment data.
// Each slice must be word-aligned.
func NewReaderArena(data [][]byte) (*ReaderArena, error) {
	segs := make([]*Segment, len(data))
	for i, d := range data {
		if len(d)%int(wordSize) != 0 {
			return nil, errors.Errorf("capnp: segment %d is not word-aligned", i)
		}
		segs[i] = &Segment{id: SegmentID(i), data: d}
	}
	return &ReaderArena{segments: segs}, nil
}

func (a *ReaderArena) NumSegments() int64 { return int64(len(a.segments)) }

func (a *ReaderArena) Segment(id SegmentID) *Segment {
	if int64(id) >= int64(len(a.segments)) {
		return nil
	}
	return a.segments[id]
}

func (a *ReaderArena) Release() {}

func (a *ReaderArena) Allocate(sz Size, msg *Message, pref *Segment) (*Segment, Address, error) {
	return nil, 0, errors.New("capnp: cannot allocate in a read-only arena")
}

func (a *ReaderArena) attach(msg *Message) {
	for _, s := range a.segments {
		s.msg = msg
	}
}

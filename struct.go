package capnpcore

import (
	"math"

	"github.com/cloudflare/capnpcore/exc"
)

// structFlags records bookkeeping bits about where a Struct came from,
// used by the writer to decide when a deep copy is required.
type structFlags uint8

const (
	isListMember structFlags = 1 << iota
)

// Struct is a handle to a struct laid out on a Segment: a data section
// followed by a pointer section, both of fixed size. The
// same type serves as both reader and builder; whether mutation is safe
// follows from whether seg belongs to a writable Arena.
type Struct struct {
	seg        *Segment
	off        Address
	size       ObjectSize
	flags      structFlags
	depthLimit uint
}

// IsValid reports whether s refers to an actual struct, as opposed to the
// zero Struct (which behaves like a struct with an entirely default,
// empty layout).
func (s Struct) IsValid() bool {
	return s.seg != nil
}

// Segment returns the segment s is laid out on, letting generated code
// allocate further objects (new text, new lists) to attach as pointer
// fields on s.
func (s Struct) Segment() *Segment {
	return s.seg
}

// DataOffset is an offset into a struct's data section, in bytes.
type DataOffset uint32

// Uint8 returns the value of an 8-bit data field at byte offset off,
// applying mask as the XOR default.
func (s Struct) Uint8(off DataOffset, mask uint8) uint8 {
	if !s.IsValid() || Size(off)+1 > s.size.DataSize {
		return 0 ^ mask
	}
	return s.seg.readUint8(s.off+Address(off)) ^ mask
}

func (s Struct) SetUint8(off DataOffset, v, mask uint8) {
	s.seg.writeUint8(s.off+Address(off), v^mask)
}

// Uint16 returns the value of a 16-bit data field.
func (s Struct) Uint16(off DataOffset, mask uint16) uint16 {
	if !s.IsValid() || Size(off)+2 > s.size.DataSize {
		return 0 ^ mask
	}
	return s.seg.readUint16(s.off+Address(off)) ^ mask
}

func (s Struct) SetUint16(off DataOffset, v, mask uint16) {
	s.seg.writeUint16(s.off+Address(off), v^mask)
}

// Uint32 returns the value of a 32-bit data field.
func (s Struct) Uint32(off DataOffset, mask uint32) uint32 {
	if !s.IsValid() || Size(off)+4 > s.size.DataSize {
		return 0 ^ mask
	}
	return s.seg.readUint32(s.off+Address(off)) ^ mask
}

func (s Struct) SetUint32(off DataOffset, v, mask uint32) {
	s.seg.writeUint32(s.off+Address(off), v^mask)
}

// Uint64 returns the value of a 64-bit data field.
func (s Struct) Uint64(off DataOffset, mask uint64) uint64 {
	if !s.IsValid() || Size(off)+8 > s.size.DataSize {
		return 0 ^ mask
	}
	return s.seg.readUint64(s.off+Address(off)) ^ mask
}

func (s Struct) SetUint64(off DataOffset, v, mask uint64) {
	s.seg.writeUint64(s.off+Address(off), v^mask)
}

// Float32 returns the value of a 32-bit floating-point data field.
func (s Struct) Float32(off DataOffset, mask uint32) float32 {
	return math.Float32frombits(s.Uint32(off, mask))
}

func (s Struct) SetFloat32(off DataOffset, v float32, mask uint32) {
	s.SetUint32(off, math.Float32bits(v), mask)
}

// Float64 returns the value of a 64-bit floating-point data field.
func (s Struct) Float64(off DataOffset, mask uint64) float64 {
	return math.Float64frombits(s.Uint64(off, mask))
}

func (s Struct) SetFloat64(off DataOffset, v float64, mask uint64) {
	s.SetUint64(off, math.Float64bits(v), mask)
}

// Bool returns the value of a single-bit data field. bitOff is the bit
// index from the start of the data section.
func (s Struct) Bool(bitOff uint32, mask bool) bool {
	byteOff := DataOffset(bitOff / 8)
	bit := bitOff % 8
	if !s.IsValid() || Size(byteOff) >= s.size.DataSize {
		return mask
	}
	b := s.seg.readUint8(s.off + Address(byteOff))
	v := b&(1<<bit) != 0
	if mask {
		return !v
	}
	return v
}

func (s Struct) SetBool(bitOff uint32, v, mask bool) {
	byteOff := DataOffset(bitOff / 8)
	bit := bitOff % 8
	addr := s.off + Address(byteOff)
	b := s.seg.readUint8(addr)
	stored := v
	if mask {
		stored = !v
	}
	if stored {
		b |= 1 << bit
	} else {
		b &^= 1 << bit
	}
	s.seg.writeUint8(addr, b)
}

// pointerAddress returns the address of the i'th pointer slot.
func (s Struct) pointerAddress(i uint16) Address {
	return s.off + Address(s.size.DataSize) + Address(i)*Address(wordSize)
}

// HasPtr reports whether pointer field i is non-null. Out-of-range indices
// report false, matching a read of a pointer past the advertised section.
func (s Struct) HasPtr(i uint16) bool {
	if !s.IsValid() || i >= s.size.PointerCount {
		return false
	}
	return s.seg.readRawPointer(s.pointerAddress(i)) != 0
}

// Ptr returns the i'th pointer field. An out-of-range index yields a null
// Ptr, the same result as reading past an advertised pointer section.
func (s Struct) Ptr(i uint16) (Ptr, error) {
	if !s.IsValid() || i >= s.size.PointerCount {
		return Ptr{}, nil
	}
	if s.depthLimit == 0 {
		return Ptr{}, exc.Failed("depth limit exceeded")
	}
	return s.seg.readPtr(s.pointerAddress(i), s.depthLimit)
}

// SetPtr sets the i'th pointer field to p, deep-copying across arenas if
// necessary. i must be within the struct's advertised pointer section.
func (s Struct) SetPtr(i uint16, p Ptr) error {
	if i >= s.size.PointerCount {
		return exc.Failed("pointer index %d out of bounds (section has %d)", i, s.size.PointerCount)
	}
	return s.seg.writePtr(s.pointerAddress(i), p, false)
}

// readSize returns the byte size of the struct's own data and pointer
// sections, not of anything they point to.
func (s Struct) readSize() Size {
	return s.size.totalSize()
}

// NewStruct allocates a new struct of the given size in seg's message and
// returns a handle to it, without attaching it to any pointer slot yet.
func NewStruct(seg *Segment, size ObjectSize) (Struct, error) {
	sz := size.totalSize()
	newSeg, addr, err := alloc(seg, sz)
	if err != nil {
		return Struct{}, exc.WrapError("new struct", err)
	}
	return Struct{seg: newSeg, off: addr, size: size, depthLimit: maxDepth}, nil
}

// NewRootStruct allocates a new struct of the given size and sets it as
// seg's message's root.
func NewRootStruct(seg *Segment, size ObjectSize) (Struct, error) {
	newSeg, addr, err := seg.msg.AllocateAsRoot(size)
	if err != nil {
		return Struct{}, exc.WrapError("new root struct", err)
	}
	return Struct{seg: newSeg, off: addr, size: size, depthLimit: maxDepth}, nil
}

// AllocateAsRoot allocates size for the message's root object, placing the
// root pointer and the struct contiguously on segment 0 when possible. The
// root pointer slot may already have been reserved (NewMessage does this);
// it must not already point at anything.
func (m *Message) AllocateAsRoot(size ObjectSize) (*Segment, Address, error) {
	first := m.Arena.Segment(0)
	if first == nil || len(first.data) == 0 {
		// Fresh arena: one allocation covers the root pointer and the
		// struct, so both land contiguously on segment 0.
		s, rootAddr, err := m.alloc(wordSize+size.totalSize(), nil)
		if err != nil {
			return nil, 0, err
		}
		if s.ID() != 0 {
			return nil, 0, exc.Failed("root was not allocated on the first segment")
		}
		if rootAddr != 0 {
			return nil, 0, exc.Failed("root struct was already allocated")
		}
		structAddr := Address(wordSize)
		s.writeRawPointer(rootAddr, rootStructPointer(rootAddr, structAddr, size))
		return s, structAddr, nil
	}
	first.msg = m
	if Size(len(first.data)) != wordSize || first.readRawPointer(0) != 0 {
		return nil, 0, exc.Failed("root struct was already allocated")
	}
	s, addr, err := m.alloc(size.totalSize(), first)
	if err != nil {
		return nil, 0, err
	}
	if s == first {
		first.writeRawPointer(0, rootStructPointer(0, addr, size))
		return s, addr, nil
	}
	if err := writeLocalOrFar(first, 0, s, addr, rawStructPointer(0, size)); err != nil {
		return nil, 0, err
	}
	return s, addr, nil
}

// rootStructPointer encodes a near struct pointer at ptrAddr targeting
// tgtAddr. A zero-sized struct one word past its pointer would otherwise
// encode as all zero bits, which is the null pointer; the offset is bumped
// to -1 in that case so the pointer stays distinguishable from null.
func rootStructPointer(ptrAddr, tgtAddr Address, size ObjectSize) rawPointer {
	off := nearPointerOffset(ptrAddr, tgtAddr)
	if off == 0 && size.isZero() {
		off = -1
	}
	return rawStructPointer(0, size).withOffset(off)
}

// ReadRootStruct reads the message's root object as a struct of the given
// expected size, honoring the defaulting and upgrade rules of
// PointerReader.get_struct.
func ReadRootStruct(m *Message, size ObjectSize) (Struct, error) {
	p, err := m.Root()
	if err != nil {
		return Struct{}, err
	}
	return p.StructDefault(size)
}

package capnpcore

import "github.com/cloudflare/capnpcore/exc"

// listFlags records bookkeeping bits distinguishing a composite (tagged)
// list from a plain element list and a bit list from a byte-granular one.
type listFlags uint8

const (
	isCompositeList listFlags = 1 << iota
	isBitList
)

// List is a handle to a list laid out on a Segment, covering every
// wire element-size encoding, including the inline-composite tagged
// form.
type List struct {
	seg        *Segment
	off        Address
	length     int32
	size       ObjectSize // per-element layout (meaningful for composite/struct-like access)
	elemSize   elementSizeEnum
	flags      listFlags
	depthLimit uint
}

// IsValid reports whether l refers to an actual list.
func (l List) IsValid() bool {
	return l.seg != nil
}

// Len returns the number of elements in the list.
func (l List) Len() int {
	return int(l.length)
}

// step returns the stride between elements, in bytes (zero for bit lists).
func (l List) step() Size {
	if l.flags&isBitList != 0 {
		return 0 // handled specially; see Bool/SetBool
	}
	return l.size.totalSize()
}

// allocSize returns the total number of bytes the list's referenced region
// occupies, including a composite list's tag word.
func (l List) allocSize() Size {
	if l.flags&isCompositeList != 0 {
		sz, _ := l.size.totalSize().times(l.length)
		return sz + wordSize
	}
	if l.flags&isBitList != 0 {
		bits := uint64(l.length)
		words := (bits + 63) / 64
		return Size(words) * wordSize
	}
	sz, _ := l.size.totalSize().times(l.length)
	return sz
}

func (l List) elementAddr(i int) (Address, bool) {
	return l.off.element(int32(i), l.size.totalSize())
}

// Uint8 returns the i'th element of a byte-element list.
func (l List) Uint8(i int) uint8 {
	addr, _ := l.elementAddr(i)
	return l.seg.readUint8(addr)
}

func (l List) SetUint8(i int, v uint8) {
	addr, _ := l.elementAddr(i)
	l.seg.writeUint8(addr, v)
}

// Uint16 returns the i'th element of a two-byte-element list.
func (l List) Uint16(i int) uint16 {
	addr, _ := l.elementAddr(i)
	return l.seg.readUint16(addr)
}

func (l List) SetUint16(i int, v uint16) {
	addr, _ := l.elementAddr(i)
	l.seg.writeUint16(addr, v)
}

// Uint32 returns the i'th element of a four-byte-element list.
func (l List) Uint32(i int) uint32 {
	addr, _ := l.elementAddr(i)
	return l.seg.readUint32(addr)
}

func (l List) SetUint32(i int, v uint32) {
	addr, _ := l.elementAddr(i)
	l.seg.writeUint32(addr, v)
}

// Uint64 returns the i'th element of an eight-byte-element list.
func (l List) Uint64(i int) uint64 {
	addr, _ := l.elementAddr(i)
	return l.seg.readUint64(addr)
}

func (l List) SetUint64(i int, v uint64) {
	addr, _ := l.elementAddr(i)
	l.seg.writeUint64(addr, v)
}

// Bool returns the i'th element of a bit list. Bit lists are packed eight
// to a byte, least-significant bit first.
func (l List) Bool(i int) bool {
	byteIdx := i / 8
	bit := uint(i % 8)
	b := l.seg.readUint8(l.off + Address(byteIdx))
	return b&(1<<bit) != 0
}

func (l List) SetBool(i int, v bool) {
	byteIdx := i / 8
	bit := uint(i % 8)
	addr := l.off + Address(byteIdx)
	b := l.seg.readUint8(addr)
	if v {
		b |= 1 << bit
	} else {
		b &^= 1 << bit
	}
	l.seg.writeUint8(addr, b)
}

// Struct returns the i'th element of the list as a Struct. For an
// inline-composite list, this is a direct view at base+i*step carrying the
// tag's advertised sizes. For a non-composite list being "upgraded" to a
// struct view (legacy schema evolution), a single-field
// struct is synthesized without mutating the message.
func (l List) Struct(i int) Struct {
	if l.flags&isCompositeList != 0 {
		addr, _ := l.elementAddr(i)
		return Struct{seg: l.seg, off: addr, size: l.size, depthLimit: l.depthLimit, flags: isListMember}
	}
	// Upgrade: a list of primitives/pointers viewed as a list of
	// single-field structs.
	addr, _ := l.off.element(int32(i), l.elemUpgradeStride())
	var sz ObjectSize
	switch {
	case l.size.PointerCount == 1:
		sz = ObjectSize{PointerCount: 1}
	default:
		sz = ObjectSize{DataSize: l.size.DataSize}
	}
	return Struct{seg: l.seg, off: addr, size: sz, depthLimit: l.depthLimit, flags: isListMember}
}

func (l List) elemUpgradeStride() Size {
	return l.size.totalSize()
}

// Uint8Slice returns the list's backing bytes directly, with no copy, when
// l is a byte-element list. Callers must not retain the slice past the
// message's lifetime and must not resize it.
func (l List) Uint8Slice() ([]byte, bool) {
	if l.elemSize != sizeByte || l.flags&(isBitList|isCompositeList) != 0 {
		return nil, false
	}
	sz, ok := l.size.DataSize.times(l.length)
	if !ok {
		return nil, false
	}
	return l.seg.slice(l.off, sz), true
}

// PointerList is a List known to hold pointer elements.
type PointerList List

// At returns the i'th pointer in a PointerList.
func (pl PointerList) At(i int) (Ptr, error) {
	l := List(pl)
	if i < 0 || i >= l.Len() {
		return Ptr{}, exc.Failed("list index %d out of range (len %d)", i, l.Len())
	}
	if l.depthLimit == 0 {
		return Ptr{}, exc.Failed("depth limit exceeded")
	}
	addr, ok := l.elementAddr(i)
	if !ok {
		return Ptr{}, exc.Failed("list element address overflow")
	}
	return l.seg.readPtr(addr, l.depthLimit)
}

// Set sets the i'th pointer in a PointerList to p.
func (pl PointerList) Set(i int, p Ptr) error {
	l := List(pl)
	if i < 0 || i >= l.Len() {
		return exc.Failed("list index %d out of range (len %d)", i, l.Len())
	}
	addr, ok := l.elementAddr(i)
	if !ok {
		return exc.Failed("list element address overflow")
	}
	return l.seg.writePtr(addr, p, false)
}

// Len returns the number of elements in the pointer list.
func (pl PointerList) Len() int { return List(pl).Len() }

// ToPtr wraps l as a Ptr.
func (l List) ToPtr() Ptr {
	if !l.IsValid() {
		return Ptr{}
	}
	return Ptr{kind: ptrList, list: l}
}

// NewList allocates a new list of count elements of the given primitive
// element size.
func NewList(seg *Segment, elemSize elementSizeEnum, count int32) (List, error) {
	if elemSize == sizeInlineComposite {
		return List{}, exc.Failed("use NewCompositeList for inline-composite lists")
	}
	total, ok := elemSize.elementSize().totalSize().times(count)
	if elemSize == sizeBit {
		bits := uint64(count)
		words := (bits + 63) / 64
		total = Size(words) * wordSize
		ok = true
	}
	if !ok {
		return List{}, exc.Failed("list size overflow")
	}
	newSeg, addr, err := alloc(seg, total)
	if err != nil {
		return List{}, exc.WrapError("new list", err)
	}
	l := List{
		seg:        newSeg,
		off:        addr,
		length:     count,
		size:       elemSize.elementSize(),
		elemSize:   elemSize,
		depthLimit: maxDepth,
	}
	if elemSize == sizeBit {
		l.flags |= isBitList
	}
	return l, nil
}

// NewPointerList allocates a new list of count pointer elements.
func NewPointerList(seg *Segment, count int32) (PointerList, error) {
	l, err := NewList(seg, sizePointer, count)
	return PointerList(l), err
}

// NewCompositeList allocates a new inline-composite list of count elements,
// each laid out with elemSize, writing the tag word first.
func NewCompositeList(seg *Segment, elemSize ObjectSize, count int32) (List, error) {
	elemTotal, ok := elemSize.totalSize().times(count)
	if !ok {
		return List{}, exc.Failed("list size overflow")
	}
	total := elemTotal + wordSize
	newSeg, addr, err := alloc(seg, total)
	if err != nil {
		return List{}, exc.WrapError("new composite list", err)
	}
	tag := rawStructPointer(wireOffset(count), elemSize)
	newSeg.writeRawPointer(addr, tag)
	elemsAddr, ok := addr.addSize(wordSize)
	if !ok {
		return List{}, exc.Failed("list size overflow")
	}
	return List{
		seg:        newSeg,
		off:        elemsAddr,
		length:     count,
		size:       elemSize,
		flags:      isCompositeList,
		depthLimit: maxDepth,
	}, nil
}

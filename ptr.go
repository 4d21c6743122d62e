package capnpcore

import (
	"unicode/utf8"

	"github.com/cloudflare/capnpcore/exc"
)

type ptrKind uint8

const (
	ptrNone ptrKind = iota
	ptrStruct
	ptrList
	ptrInterface
)

// Ptr is the uniform access surface for any pointer field: struct, list,
// interface, or null. Every field access outside a struct's
// own data section flows through a Ptr.
type Ptr struct {
	kind  ptrKind
	strct Struct
	list  List
	iface Interface
}

// IsValid reports whether p refers to an object, as opposed to null.
func (p Ptr) IsValid() bool {
	return p.kind != ptrNone
}

// Struct returns p as a Struct. The zero Struct is returned if p is not a
// struct pointer.
func (p Ptr) Struct() Struct {
	if p.kind != ptrStruct {
		return Struct{}
	}
	return p.strct
}

// List returns p as a List. The zero List is returned if p is not a list
// pointer.
func (p Ptr) List() List {
	if p.kind != ptrList {
		return List{}
	}
	return p.list
}

// Interface returns p as an Interface. The zero Interface is returned if p
// is not a capability pointer.
func (p Ptr) Interface() Interface {
	if p.kind != ptrInterface {
		return Interface{}
	}
	return p.iface
}

func (p Ptr) kindOf() ptrKind { return p.kind }

// ToPtr wraps s as a Ptr.
func (s Struct) ToPtr() Ptr {
	if !s.IsValid() {
		return Ptr{}
	}
	return Ptr{kind: ptrStruct, strct: s}
}

// StructDefault returns p as a Struct of the given expected size, honoring
// the default when p is null: a zero Struct behaves as if it had that size
// with every field at its XOR-mask default.
func (p Ptr) StructDefault(size ObjectSize) (Struct, error) {
	if !p.IsValid() {
		return Struct{size: size, depthLimit: maxDepth}, nil
	}
	if p.kind != ptrStruct {
		return Struct{}, exc.Failed("pointer is not a struct")
	}
	return p.strct, nil
}

// ListDefault returns p as a List whose element size is compatible with
// expected, honoring the default when p is null.
func (p Ptr) ListDefault(expected elementSizeEnum) (List, error) {
	if !p.IsValid() {
		return List{elemSize: expected, size: expected.elementSize(), depthLimit: maxDepth}, nil
	}
	if p.kind != ptrList {
		return List{}, exc.Failed("pointer is not a list")
	}
	l := p.list
	if !elementSizeCompatible(l, expected) {
		return List{}, exc.Failed("list element size mismatch: wanted %d, got %d", expected, l.elemSize)
	}
	return l, nil
}

// elementSizeCompatible implements the list-upgrading compatibility rule:
// a list satisfies its own element size, an inline-composite list
// satisfies any expectation, and a primitive or pointer list satisfies an
// inline-composite (struct list) expectation, its elements then being read
// through List.Struct as single-field structs.
func elementSizeCompatible(l List, expected elementSizeEnum) bool {
	// An inline-composite list carries its own per-element data/pointer
	// layout and can satisfy any requested primitive or pointer view of
	// its elements.
	if l.flags&isCompositeList != 0 {
		return true
	}
	if expected == sizeInlineComposite {
		return true
	}
	return l.elemSize == expected
}

// Text returns p as a NUL-terminated text blob, validating UTF-8 and
// stripping the trailing NUL. def is returned (decoded the same way) if p
// is null.
func (p Ptr) Text(def string) (string, error) {
	if !p.IsValid() {
		return def, nil
	}
	l, err := p.ListDefault(sizeByte)
	if err != nil {
		return "", exc.WrapError("text", err)
	}
	if l.flags&(isCompositeList|isBitList) != 0 {
		return "", exc.Failed("text field is not a byte list")
	}
	n := l.Len()
	if n == 0 {
		return "", exc.Failed("text field missing NUL terminator")
	}
	if l.Uint8(n-1) != 0 {
		return "", exc.Failed("text field missing NUL terminator")
	}
	addr, _ := l.elementAddr(0)
	b := l.seg.slice(addr, Size(n-1))
	if !utf8.Valid(b) {
		return "", exc.Failed("text field is not valid UTF-8")
	}
	return string(b), nil
}

// NewText allocates a new NUL-terminated text blob containing s and
// returns it as a Ptr.
func NewText(seg *Segment, s string) (Ptr, error) {
	l, err := NewList(seg, sizeByte, int32(len(s)+1))
	if err != nil {
		return Ptr{}, exc.WrapError("new text", err)
	}
	addr, _ := l.elementAddr(0)
	copy(l.seg.slice(addr, Size(len(s))), s)
	return l.ToPtr(), nil
}

// Data returns p as an un-terminated byte blob. def is returned if p is
// null.
func (p Ptr) Data(def []byte) ([]byte, error) {
	if !p.IsValid() {
		return def, nil
	}
	l, err := p.ListDefault(sizeByte)
	if err != nil {
		return nil, exc.WrapError("data", err)
	}
	if l.flags&(isCompositeList|isBitList) != 0 {
		return nil, exc.Failed("data field is not a byte list")
	}
	if l.Len() == 0 {
		return nil, nil
	}
	addr, _ := l.elementAddr(0)
	return l.seg.slice(addr, Size(l.Len())), nil
}

// NewData allocates a new byte blob containing b and returns it as a Ptr.
func NewData(seg *Segment, b []byte) (Ptr, error) {
	l, err := NewList(seg, sizeByte, int32(len(b)))
	if err != nil {
		return Ptr{}, exc.WrapError("new data", err)
	}
	if len(b) > 0 {
		addr, _ := l.elementAddr(0)
		copy(l.seg.slice(addr, Size(len(b))), b)
	}
	return l.ToPtr(), nil
}

// TotalSize recursively counts the words and capabilities reachable from
// p, decrementing the message's traversal-limit counter as it goes.
func (p Ptr) TotalSize() (uint64, error) {
	if !p.IsValid() {
		return 0, nil
	}
	switch p.kind {
	case ptrStruct:
		return structTotalSize(p.strct)
	case ptrList:
		return listTotalSize(p.list)
	case ptrInterface:
		return 1, nil
	default:
		return 0, nil
	}
}

func structTotalSize(s Struct) (uint64, error) {
	if !s.seg.msg.canRead(s.size.totalSize()) {
		return 0, exc.Failed("read limit exceeded")
	}
	total := uint64(s.size.totalSize() / wordSize)
	for i := uint16(0); i < s.size.PointerCount; i++ {
		p, err := s.Ptr(i)
		if err != nil {
			return 0, err
		}
		n, err := p.TotalSize()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func listTotalSize(l List) (uint64, error) {
	if !l.seg.msg.canRead(l.allocSize()) {
		return 0, exc.Failed("read limit exceeded")
	}
	// allocSize already covers the element region itself (and the tag
	// word, for a composite list); only the objects each element's
	// pointers reach still need to be walked.
	total := uint64(l.allocSize().padToWord() / wordSize)
	if l.size.PointerCount == 0 {
		return total, nil
	}
	if l.flags&isCompositeList != 0 {
		for i := 0; i < l.Len(); i++ {
			elem := l.Struct(i)
			for j := uint16(0); j < elem.size.PointerCount; j++ {
				p, err := elem.Ptr(j)
				if err != nil {
					return 0, err
				}
				n, err := p.TotalSize()
				if err != nil {
					return 0, err
				}
				total += n
			}
		}
		return total, nil
	}
	pl := PointerList(l)
	for i := 0; i < pl.Len(); i++ {
		p, err := pl.At(i)
		if err != nil {
			return 0, err
		}
		n, err := p.TotalSize()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ---- Segment-level pointer resolution ----

func (s *Segment) readPtr(off Address, depthLimit uint) (Ptr, error) {
	val := s.readRawPointer(off)
	seg, off, val, err := s.resolveFarPointer(off, val)
	if err != nil {
		return Ptr{}, err
	}
	if val == 0 {
		return Ptr{}, nil
	}
	if depthLimit == 0 {
		return Ptr{}, exc.Failed("depth limit exceeded")
	}
	switch val.pointerType() {
	case structPointer:
		st, err := seg.readStructPtr(off, val)
		if err != nil {
			return Ptr{}, err
		}
		if !seg.msg.canRead(st.readSize()) {
			return Ptr{}, exc.Failed("read limit exceeded")
		}
		st.depthLimit = depthLimit - 1
		return st.ToPtr(), nil
	case listPointer:
		// Debit the advertised size before bounds-checking so a pointer
		// claiming an enormous element count is rejected as a read-limit
		// violation, not trusted long enough to do per-element work.
		sz, ok := val.totalListSize()
		if !ok {
			return Ptr{}, exc.Failed("list size overflow")
		}
		if !seg.msg.canRead(sz) {
			return Ptr{}, exc.Failed("read limit exceeded")
		}
		l, err := seg.readListPtr(off, val)
		if err != nil {
			return Ptr{}, err
		}
		l.depthLimit = depthLimit - 1
		return l.ToPtr(), nil
	case otherPointer:
		if val.otherPointerType() != 0 {
			return Ptr{}, exc.Failed("unknown pointer subtype")
		}
		return Interface{seg: seg, cap: val.capabilityIndex()}.ToPtr(), nil
	default:
		return Ptr{}, exc.Failed("invalid far-pointer landing pad")
	}
}

func (s *Segment) readStructPtr(off Address, val rawPointer) (Struct, error) {
	addr, ok := val.wireOffset().resolve(off)
	if !ok {
		return Struct{}, exc.Failed("invalid pointer address")
	}
	sz := val.structSize()
	if !s.regionInBounds(addr, sz.totalSize()) {
		return Struct{}, exc.Failed("struct pointer out of bounds")
	}
	return Struct{seg: s, off: addr, size: sz}, nil
}

func (s *Segment) readListPtr(off Address, val rawPointer) (List, error) {
	addr, ok := val.wireOffset().resolve(off)
	if !ok {
		return List{}, exc.Failed("invalid pointer address")
	}
	lsize, ok := val.totalListSize()
	if !ok {
		return List{}, exc.Failed("list size overflow")
	}
	if !s.regionInBounds(addr, lsize) {
		return List{}, exc.Failed("list pointer out of bounds")
	}
	elemSize := val.listElementSize()
	if elemSize == sizeInlineComposite {
		if lsize < wordSize {
			return List{}, exc.Failed("inline-composite list missing its tag word")
		}
		hdr := s.readRawPointer(addr)
		elemsAddr, ok := addr.addSize(wordSize)
		if !ok {
			return List{}, exc.Failed("list size overflow")
		}
		if hdr.pointerType() != structPointer {
			return List{}, exc.Failed("invalid inline-composite tag word")
		}
		sz := hdr.structSize()
		n := hdr.offset()
		if n < 0 {
			return List{}, exc.Failed("invalid inline-composite element count")
		}
		tsize, ok := sz.totalSize().times(n)
		if !ok {
			return List{}, exc.Failed("list size overflow")
		}
		if tsize > lsize-wordSize {
			return List{}, exc.Failed("inline-composite elements overrun the declared list region")
		}
		if !s.regionInBounds(elemsAddr, tsize) {
			return List{}, exc.Failed("inline-composite list out of bounds")
		}
		return List{seg: s, off: elemsAddr, length: n, size: sz, flags: isCompositeList}, nil
	}
	if elemSize == sizeBit {
		return List{seg: s, off: addr, length: val.numListElements(), elemSize: sizeBit, flags: isBitList}, nil
	}
	return List{
		seg:      s,
		off:      addr,
		length:   val.numListElements(),
		size:     elemSize.elementSize(),
		elemSize: elemSize,
	}, nil
}

// resolveFarPointer follows zero, one, or two far-pointer indirections,
// returning the segment/offset/raw value of the final non-far pointer.
func (s *Segment) resolveFarPointer(off Address, val rawPointer) (*Segment, Address, rawPointer, error) {
	switch val.pointerType() {
	case doubleFarPointer:
		faroff, segid := val.farAddress(), val.farSegment()
		seg, err := s.lookupSegment(segid)
		if err != nil {
			return nil, 0, 0, err
		}
		if !seg.regionInBounds(faroff, wordSize*2) {
			return nil, 0, 0, exc.Failed("invalid far pointer landing pad")
		}
		far := seg.readRawPointer(faroff)
		tagAddr, ok := faroff.addSize(wordSize)
		if !ok {
			return nil, 0, 0, exc.Failed("address overflow")
		}
		tag := seg.readRawPointer(tagAddr)
		if far.pointerType() != farPointer || tag.offset() != 0 {
			return nil, 0, 0, exc.Failed("invalid double-far landing pad")
		}
		finalSeg, err := s.lookupSegment(far.farSegment())
		if err != nil {
			return nil, 0, 0, exc.Failed("invalid far pointer landing pad")
		}
		return finalSeg, 0, landingPadNear(far, tag), nil
	case farPointer:
		faroff, segid := val.farAddress(), val.farSegment()
		seg, err := s.lookupSegment(segid)
		if err != nil {
			return nil, 0, 0, err
		}
		if !seg.regionInBounds(faroff, wordSize) {
			return nil, 0, 0, exc.Failed("invalid far pointer address")
		}
		return seg, faroff, seg.readRawPointer(faroff), nil
	default:
		return s, off, val, nil
	}
}

// landingPadNear combines a double-far pointer's far word (the absolute
// segment/word address of the real object) with its tag word (the
// struct/list descriptor, offset field still zero) into the equivalent
// near pointer: tag's descriptor bits with an offset field computed as if
// the pointer sat immediately before the object.
func landingPadNear(far, tag rawPointer) rawPointer {
	wordAddr := int32(uint32(far.farAddress()) / uint32(wordSize))
	return tag.withOffset(wireOffset(wordAddr - 1))
}

// writePtr stores src into the pointer slot at off in s, copying the
// referenced object if it lives in a different message or must not be
// aliased (e.g. it is itself a list element).
func (s *Segment) writePtr(off Address, src Ptr, forceCopy bool) error {
	if !src.IsValid() {
		s.writeRawPointer(off, 0)
		return nil
	}
	switch src.kind {
	case ptrStruct:
		st := src.strct
		if forceCopy || st.seg.msg != s.msg || st.flags&isListMember != 0 {
			newSeg, newAddr, err := alloc(s, st.size.totalSize())
			if err != nil {
				return err
			}
			dst := Struct{seg: newSeg, off: newAddr, size: st.size, depthLimit: maxDepth}
			if err := copyStructData(dst, st); err != nil {
				return err
			}
			src = dst.ToPtr()
		}
	case ptrList:
		l := src.list
		if forceCopy || l.seg.msg != s.msg {
			dst, err := copyList(s, l)
			if err != nil {
				return err
			}
			src = dst.ToPtr()
		}
	case ptrInterface:
		iface := src.iface
		if iface.seg.msg != s.msg {
			idx := s.msg.CapTable().add(iface.Client())
			iface = Interface{seg: s, cap: idx}
		}
		s.writeRawPointer(off, rawCapabilityPointer(iface.cap))
		return nil
	}

	if src.kind == ptrStruct {
		st := src.strct
		return writeLocalOrFar(s, off, st.seg, st.off, rawStructPointer(0, st.size))
	}
	l := src.list
	tagOff := l.off
	var raw rawPointer
	if l.flags&isCompositeList != 0 {
		tagOff -= Address(wordSize)
		raw = rawCompositeListPointer(0, int32(l.allocSize()/wordSize))
	} else if l.flags&isBitList != 0 {
		raw = rawListPointer(0, sizeBit, l.length)
	} else {
		raw = rawListPointer(0, l.elemSize, l.length)
	}
	return writeLocalOrFar(s, off, l.seg, tagOff, raw)
}

// writeLocalOrFar writes a pointer at off in s referencing the object
// starting at tgtOff in tgtSeg, described by descriptor raw (with its
// offset field still zero). If tgtSeg == s, this writes a plain near
// pointer. Otherwise it writes a double-far pointer: a landing pad of two
// words (an absolute far pointer to the object, followed by a copy of
// raw) allocated whereever the arena has room, and a far pointer to that
// pad at off. A single-far landing pad would need to live in tgtSeg
// itself, which a general arena cannot guarantee room for without risking
// a second indirection anyway, so this always takes the double-far path
// for cross-segment references; readers accept either wire form.
func writeLocalOrFar(s *Segment, off Address, tgtSeg *Segment, tgtOff Address, raw rawPointer) error {
	if tgtSeg == s {
		o := nearPointerOffset(off, tgtOff)
		if raw == 0 && o == 0 {
			// A zero-sized struct one word past its pointer would encode
			// as all zero bits, i.e. null; offset -1 keeps it
			// distinguishable.
			o = -1
		}
		s.writeRawPointer(off, raw.withOffset(o))
		return nil
	}
	landSeg, landAddr, err := alloc(s, wordSize*2)
	if err != nil {
		return err
	}
	landSeg.writeRawPointer(landAddr, rawFarPointer(tgtSeg.ID(), tgtOff))
	tagAddr, _ := landAddr.addSize(wordSize)
	landSeg.writeRawPointer(tagAddr, raw)
	s.writeRawPointer(off, rawDoubleFarPointer(landSeg.ID(), landAddr))
	return nil
}

func copyStructData(dst, src Struct) error {
	copy(dst.seg.slice(dst.off, src.size.DataSize), src.seg.slice(src.off, src.size.DataSize))
	for i := uint16(0); i < dst.size.PointerCount && i < src.size.PointerCount; i++ {
		p, err := src.Ptr(i)
		if err != nil {
			return err
		}
		if err := dst.SetPtr(i, p); err != nil {
			return err
		}
	}
	return nil
}

func copyList(dst *Segment, l List) (List, error) {
	sz := l.allocSize()
	newSeg, newAddr, err := alloc(dst, sz)
	if err != nil {
		return List{}, err
	}
	out := List{seg: newSeg, off: newAddr, length: l.length, size: l.size, elemSize: l.elemSize, flags: l.flags, depthLimit: maxDepth}
	if out.flags&isCompositeList != 0 {
		newSeg.writeRawPointer(newAddr, l.seg.readRawPointer(l.off-Address(wordSize)))
		out.off, _ = out.off.addSize(wordSize)
		sz -= wordSize
	}
	if out.flags&isBitList != 0 || out.size.PointerCount == 0 {
		end, _ := l.off.addSize(sz)
		copy(newSeg.data[out.off:], l.seg.data[l.off:end])
		return out, nil
	}
	for i := 0; i < l.Len(); i++ {
		if err := copyStructData(out.Struct(i), l.Struct(i)); err != nil {
			return List{}, err
		}
	}
	return out, nil
}

package capnpcore

import (
	"bytes"

	"github.com/cloudflare/capnpcore/exc"
	"github.com/cloudflare/capnpcore/internal/str"
)

// Canonicalize encodes s into its canonical form: a single, word-aligned
// segment with no far pointers, and every struct and list trimmed to drop
// trailing all-zero words and null pointers. Two messages
// describing equal values, even across schema evolution, canonicalize to
// byte-identical output, which makes the result suitable for hashing or
// signing.
func Canonicalize(s Struct) ([]byte, error) {
	_, seg, err := NewMessage(SingleSegmentArena(nil))
	if err != nil {
		return nil, exc.WrapError("canonicalize", err)
	}
	if !s.IsValid() {
		// A null root canonicalizes to a single zero word, which the
		// fresh message's reserved root pointer slot already is.
		return seg.Data(), nil
	}
	root, err := NewRootStruct(seg, canonicalStructSize(s))
	if err != nil {
		return nil, exc.WrapError("canonicalize", err)
	}
	if err := fillCanonicalStruct(root, s); err != nil {
		return nil, exc.WrapError("canonicalize", err)
	}
	return seg.Data(), nil
}

func canonicalPtr(dst *Segment, p Ptr) (Ptr, error) {
	if !p.IsValid() {
		return Ptr{}, nil
	}
	switch p.kind {
	case ptrStruct:
		ss, err := NewStruct(dst, canonicalStructSize(p.strct))
		if err != nil {
			return Ptr{}, exc.WrapError("struct", err)
		}
		if err := fillCanonicalStruct(ss, p.strct); err != nil {
			return Ptr{}, err
		}
		return ss.ToPtr(), nil
	case ptrList:
		ll, err := canonicalList(dst, p.list)
		if err != nil {
			return Ptr{}, err
		}
		return ll.ToPtr(), nil
	case ptrInterface:
		return NewInterface(dst, p.iface.Capability()).ToPtr(), nil
	default:
		return Ptr{}, exc.Failed("unreachable pointer kind in canonicalize")
	}
}

func fillCanonicalStruct(dst, s Struct) error {
	copy(dst.seg.slice(dst.off, dst.size.DataSize), s.seg.slice(s.off, s.size.DataSize))
	for i := uint16(0); i < dst.size.PointerCount; i++ {
		p, err := s.Ptr(i)
		if err != nil {
			return exc.WrapError("struct pointer "+str.Utod(i), err)
		}
		cp, err := canonicalPtr(dst.seg, p)
		if err != nil {
			return exc.WrapError("struct pointer "+str.Utod(i), err)
		}
		if err := dst.SetPtr(i, cp); err != nil {
			return exc.WrapError("struct pointer "+str.Utod(i), err)
		}
	}
	return nil
}

// canonicalStructSize trims s's advertised size down to the smallest
// prefix of its data section and pointer section that still holds every
// non-zero word / non-null pointer.
func canonicalStructSize(s Struct) ObjectSize {
	if !s.IsValid() {
		return ObjectSize{}
	}
	var sz ObjectSize
	for off := int32(s.size.DataSize &^ (wordSize - 1)); off >= 0; off -= int32(wordSize) {
		if off < int32(s.size.DataSize) && s.Uint64(DataOffset(off), 0) != 0 {
			sz.DataSize = Size(off) + wordSize
			break
		}
	}
	for i := int32(s.size.PointerCount) - 1; i >= 0; i-- {
		if s.seg.readRawPointer(s.pointerAddress(uint16(i))) != 0 {
			sz.PointerCount = uint16(i + 1)
			break
		}
	}
	return sz
}

func canonicalList(dst *Segment, l List) (List, error) {
	if !l.IsValid() {
		return List{}, nil
	}
	if l.flags&isCompositeList == 0 && l.size.PointerCount == 0 {
		sz := l.allocSize()
		newSeg, newAddr, err := alloc(dst, sz)
		if err != nil {
			return List{}, exc.WrapError("list", err)
		}
		cl := List{
			seg:        newSeg,
			off:        newAddr,
			length:     l.length,
			size:       l.size,
			elemSize:   l.elemSize,
			flags:      l.flags,
			depthLimit: maxDepth,
		}
		end, _ := l.off.addSize(sz)
		copy(newSeg.data[newAddr:], l.seg.data[l.off:end])
		return cl, nil
	}
	if l.flags&isCompositeList == 0 {
		cl, err := NewPointerList(dst, l.length)
		if err != nil {
			return List{}, exc.WrapError("list", err)
		}
		for i := 0; i < l.Len(); i++ {
			p, err := PointerList(l).At(i)
			if err != nil {
				return List{}, exc.WrapError("list element "+str.Itod(i), err)
			}
			cp, err := canonicalPtr(dst, p)
			if err != nil {
				return List{}, exc.WrapError("list element "+str.Itod(i), err)
			}
			if err := cl.Set(i, cp); err != nil {
				return List{}, exc.WrapError("list element "+str.Itod(i), err)
			}
		}
		return List(cl), nil
	}

	var elemSize ObjectSize
	for i := 0; i < l.Len(); i++ {
		sz := canonicalStructSize(l.Struct(i))
		if sz.DataSize > elemSize.DataSize {
			elemSize.DataSize = sz.DataSize
		}
		if sz.PointerCount > elemSize.PointerCount {
			elemSize.PointerCount = sz.PointerCount
		}
	}
	cl, err := NewCompositeList(dst, elemSize, l.length)
	if err != nil {
		return List{}, exc.WrapError("list", err)
	}
	for i := 0; i < cl.Len(); i++ {
		if err := fillCanonicalStruct(cl.Struct(i), l.Struct(i)); err != nil {
			return List{}, exc.WrapError("list element "+str.Itod(i), err)
		}
	}
	return cl, nil
}

// IsCanonical reports whether m's current encoding is already in
// canonical form: a single segment, and every struct/list trimmed as
// Canonicalize would trim it.
func IsCanonical(m *Message) (bool, error) {
	if m.NumSegments() != 1 {
		return false, nil
	}
	root, err := m.Root()
	if err != nil {
		return false, exc.WrapError("is canonical", err)
	}
	canon, err := Canonicalize(root.Struct())
	if err != nil {
		return false, exc.WrapError("is canonical", err)
	}
	seg, err := m.Segment(0)
	if err != nil {
		return false, exc.WrapError("is canonical", err)
	}
	return bytes.Equal(seg.Data(), canon), nil
}

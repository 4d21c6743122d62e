package capnpcore

import (
	"bytes"

	"github.com/cloudflare/capnpcore/exc"
)

// Equal reports whether p1 and p2 encode the same value, treating a null
// pointer and a default-valued object of the same kind as equal.
// Data-section bytes beyond the shorter struct's advertised
// size are compared against zero, so a struct widened by schema evolution
// still equals its narrower counterpart as long as the extra fields are
// unset.
func Equal(p1, p2 Ptr) (bool, error) {
	if !p1.IsValid() && !p2.IsValid() {
		return true, nil
	}
	if !p1.IsValid() {
		return isDefault(p2)
	}
	if !p2.IsValid() {
		return isDefault(p1)
	}
	if p1.kind != p2.kind {
		return false, nil
	}
	switch p1.kind {
	case ptrStruct:
		return structEqual(p1.strct, p2.strct)
	case ptrList:
		return listEqual(p1.list, p2.list)
	case ptrInterface:
		return p1.iface.Client() == p2.iface.Client(), nil
	default:
		return true, nil
	}
}

// isDefault reports whether p equals the zero value for its kind: an
// all-zero data section, no set pointers.
func isDefault(p Ptr) (bool, error) {
	switch p.kind {
	case ptrStruct:
		s := p.strct
		if !bytes.Equal(dataZeroTrim(s), nil) {
			return false, nil
		}
		for i := uint16(0); i < s.size.PointerCount; i++ {
			fp, err := s.Ptr(i)
			if err != nil {
				return false, err
			}
			ok, err := isDefault(fp)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ptrList:
		return p.list.Len() == 0, nil
	case ptrInterface:
		return false, nil
	default:
		return true, nil
	}
}

// dataZeroTrim returns the data section of s (untrimmed) if any byte of it
// is non-zero, or nil if every byte is zero.
func dataZeroTrim(s Struct) []byte {
	if !s.IsValid() {
		return nil
	}
	b := s.seg.slice(s.off, s.size.DataSize)
	for _, c := range b {
		if c != 0 {
			return b
		}
	}
	return nil
}

func structEqual(s1, s2 Struct) (bool, error) {
	d1 := s1.seg.slice(s1.off, s1.size.DataSize)
	d2 := s2.seg.slice(s2.off, s2.size.DataSize)
	if !dataSectionsEqual(d1, d2) {
		return false, nil
	}
	n := s1.size.PointerCount
	if s2.size.PointerCount > n {
		n = s2.size.PointerCount
	}
	for i := uint16(0); i < n; i++ {
		p1, err := s1.Ptr(i)
		if err != nil {
			return false, err
		}
		p2, err := s2.Ptr(i)
		if err != nil {
			return false, err
		}
		ok, err := Equal(p1, p2)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// dataSectionsEqual compares two data sections of possibly different
// length, treating the shorter one as zero-padded to the longer's length.
func dataSectionsEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return false
		}
	}
	return true
}

func listEqual(l1, l2 List) (bool, error) {
	if l1.Len() != l2.Len() {
		return false, nil
	}
	switch {
	case l1.flags&isBitList != 0 || l2.flags&isBitList != 0:
		if l1.flags&isBitList == 0 || l2.flags&isBitList == 0 {
			return false, exc.Failed("cannot compare a bit list against a non-bit list")
		}
		for i := 0; i < l1.Len(); i++ {
			if l1.Bool(i) != l2.Bool(i) {
				return false, nil
			}
		}
		return true, nil
	case l1.flags&isCompositeList == 0 && l1.size.PointerCount == 0:
		aSz, _ := l1.size.DataSize.times(int32(l1.Len()))
		bSz, _ := l2.size.DataSize.times(int32(l2.Len()))
		a := l1.seg.slice(l1.off, aSz)
		b := l2.seg.slice(l2.off, bSz)
		return bytes.Equal(a, b), nil
	default:
		for i := 0; i < l1.Len(); i++ {
			s1 := l1.Struct(i)
			s2 := l2.Struct(i)
			ok, err := structEqual(s1, s2)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

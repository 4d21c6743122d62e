package capnpcore

// rawPointer is the 64-bit, little-endian wire pointer encoding. The
// lower two bits are a kind tag; the remaining bits are interpreted
// according to that tag.
type rawPointer uint64

type pointerType uint8

const (
	structPointer pointerType = iota
	listPointer
	farPointer
	otherPointer
	doubleFarPointer // a farPointer whose single/double-pad bit is set
)

// pointerType reports which of the four wire kinds (plus the
// single/double-far distinction) this raw pointer encodes.
func (p rawPointer) pointerType() pointerType {
	switch p & 3 {
	case 0:
		return structPointer
	case 1:
		return listPointer
	case 2:
		if p&4 != 0 {
			return doubleFarPointer
		}
		return farPointer
	default:
		return otherPointer
	}
}

// offset returns the struct/list pointer's signed 30-bit word offset,
// relative to the word following the pointer itself.
func (p rawPointer) offset() int32 {
	return int32(p) >> 2
}

// resolve turns a relative pointer offset, read from the word at
// from, into an absolute address of the word immediately following that
// offset's base.
func (o wireOffset) resolve(from Address) (Address, bool) {
	// The base is the word after the pointer, i.e. from+wordSize.
	base, ok := from.addSize(wordSize)
	if !ok {
		return 0, false
	}
	delta := int64(o) * int64(wordSize)
	addr := int64(base) + delta
	if addr < 0 || addr > int64(^Address(0)) {
		return 0, false
	}
	return Address(addr), true
}

// wireOffset is the signed word-granular offset embedded in a struct or
// list pointer (before a far-pointer indirection, if any).
type wireOffset int32

func (p rawPointer) wireOffset() wireOffset {
	return wireOffset(p.offset())
}

// structSize returns the data/pointer section sizes of a struct pointer.
func (p rawPointer) structSize() ObjectSize {
	data := Size(uint16(p>>32)) * wordSize
	ptrs := uint16(p >> 48)
	return ObjectSize{DataSize: data, PointerCount: ptrs}
}

// elementSizeEnum is the 3-bit element-size tag of a list pointer.
type elementSizeEnum uint8

const (
	sizeVoid elementSizeEnum = iota
	sizeBit
	sizeByte
	sizeTwoBytes
	sizeFourBytes
	sizeEightBytes
	sizePointer
	sizeInlineComposite
)

func (p rawPointer) listElementSize() elementSizeEnum {
	return elementSizeEnum((p >> 32) & 7)
}

// elementSize returns the per-element ObjectSize of a non-composite list
// pointer's element encoding.
func (e elementSizeEnum) elementSize() ObjectSize {
	switch e {
	case sizeVoid:
		return ObjectSize{}
	case sizeByte:
		return ObjectSize{DataSize: 1}
	case sizeTwoBytes:
		return ObjectSize{DataSize: 2}
	case sizeFourBytes:
		return ObjectSize{DataSize: 4}
	case sizeEightBytes:
		return ObjectSize{DataSize: 8}
	case sizePointer:
		return ObjectSize{PointerCount: 1}
	default:
		return ObjectSize{}
	}
}

// numListElements returns the 29-bit element count of a non-composite list
// pointer.
func (p rawPointer) numListElements() int32 {
	return int32(p >> 35)
}

// totalListSize computes the total byte size that a list pointer's
// referenced region occupies, including the composite-list tag word.
func (p rawPointer) totalListSize() (Size, bool) {
	switch p.listElementSize() {
	case sizeInlineComposite:
		// For inline-composite, the "count" field is re-used as a word
		// count of the tag word plus all elements.
		words := p.numListElements()
		if words < 0 {
			return 0, false
		}
		total, ok := wordSize.times(words)
		if !ok {
			return 0, false
		}
		return total, true
	case sizeBit:
		n := p.numListElements()
		if n < 0 {
			return 0, false
		}
		bits := uint64(n)
		words := (bits + 63) / 64
		if words > uint64(maxSegmentSize/wordSize) {
			return 0, false
		}
		return Size(words) * wordSize, true
	default:
		elemSz := p.listElementSize().elementSize()
		n := p.numListElements()
		return elemSz.totalSize().times(n)
	}
}

// farAddress returns the far pointer's 29-bit word offset within its
// target segment, expressed as a byte Address.
func (p rawPointer) farAddress() Address {
	return Address(uint32(p>>3) & (1<<29 - 1) * uint32(wordSize))
}

// farSegment returns the far pointer's 32-bit target segment id.
func (p rawPointer) farSegment() SegmentID {
	return SegmentID(p >> 32)
}

// isDoubleFar reports whether a far pointer uses the double-landing-pad
// form.
func (p rawPointer) isDoubleFar() bool {
	return p&4 != 0
}

// capabilityIndex returns the 32-bit index into the message's capability
// table for an "other" pointer whose subtype is 0.
func (p rawPointer) capabilityIndex() uint32 {
	return uint32(p >> 32)
}

// otherPointerType returns the 2-bit subtype of an "other" pointer.
func (p rawPointer) otherPointerType() uint8 {
	return uint8(p>>2) & 3
}

// rawStructPointer encodes a struct pointer with offset field off and the
// data/pointer section sizes of sz; withOffset can replace the offset later
// once the final address of the pointer word is known.
func rawStructPointer(off wireOffset, sz ObjectSize) rawPointer {
	dataWords := uint16(sz.DataSize / wordSize)
	return rawPointer(uint32(off)<<2) | rawPointer(dataWords)<<32 | rawPointer(sz.PointerCount)<<48
}

// rawListPointer encodes a non-composite list pointer.
func rawListPointer(off wireOffset, size elementSizeEnum, n int32) rawPointer {
	return rawPointer(uint32(off)<<2) | 1 | rawPointer(size)<<32 | rawPointer(uint32(n))<<35
}

// rawCompositeListPointer encodes an inline-composite list pointer, where
// the count field holds the total word length of tag+elements.
func rawCompositeListPointer(off wireOffset, totalWords int32) rawPointer {
	return rawListPointer(off, sizeInlineComposite, totalWords)
}

// rawFarPointer encodes a single-pad far pointer.
func rawFarPointer(seg SegmentID, addr Address) rawPointer {
	word := uint32(addr) / uint32(wordSize)
	return rawPointer(word)<<3 | 2 | rawPointer(seg)<<32
}

// rawDoubleFarPointer encodes a double-pad far pointer.
func rawDoubleFarPointer(seg SegmentID, addr Address) rawPointer {
	word := uint32(addr) / uint32(wordSize)
	return rawPointer(word)<<3 | 2 | 4 | rawPointer(seg)<<32
}

// rawCapabilityPointer encodes a capability (interface) pointer.
func rawCapabilityPointer(index uint32) rawPointer {
	return 3 | rawPointer(index)<<32
}

// withOffset returns p with its wire offset field replaced.
func (p rawPointer) withOffset(off wireOffset) rawPointer {
	switch p.pointerType() {
	case structPointer, listPointer:
		return (p &^ 0xFFFFFFFF) | rawPointer(uint32(off)<<2) | (p & 3)
	default:
		return p
	}
}

// nearPointerOffset computes the signed word offset of a local (non-far)
// pointer located at ptrAddr, targeting tgtAddr.
func nearPointerOffset(ptrAddr, tgtAddr Address) wireOffset {
	base := int64(ptrAddr) + int64(wordSize)
	return wireOffset((int64(tgtAddr) - base) / int64(wordSize))
}

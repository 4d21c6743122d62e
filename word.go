// Package capnpcore implements the core wire-format engine of a Cap'n
// Proto runtime: the segmented message arena, pointer layout encoding, and
// the typed reader/builder facade that traverses and constructs messages
// directly on that arena without intermediate deserialization.
package capnpcore

import "math"

// wordSize is the number of bytes in a word, the fundamental unit of
// alignment and offset on the wire.
const wordSize Size = 8

// Address is a byte offset from the start of a segment's data.
type Address uint32

// addSize returns a+Address(sz), failing if the result would overflow.
func (a Address) addSize(sz Size) (Address, bool) {
	sum := uint64(a) + uint64(sz)
	if sum > math.MaxUint32 {
		return 0, false
	}
	return Address(sum), true
}

// element returns the address of the i'th element of a list whose
// elements are sz bytes wide, starting at a, failing on overflow.
func (a Address) element(i int32, sz Size) (Address, bool) {
	if i < 0 {
		return 0, false
	}
	off, ok := sz.times(i)
	if !ok {
		return 0, false
	}
	return a.addSize(off)
}

// Size is a number of bytes.
type Size uint32

// times returns sz*n, failing on overflow.
func (sz Size) times(n int32) (Size, bool) {
	if n < 0 {
		return 0, false
	}
	total := uint64(sz) * uint64(n)
	if total > math.MaxUint32 {
		return 0, false
	}
	return Size(total), true
}

// padToWord rounds sz up to the next multiple of the word size.
func (sz Size) padToWord() Size {
	return (sz + 7) &^ 7
}

// ObjectSize records the data-section and pointer-section sizes of a
// struct, or equivalently the element layout of a list.
type ObjectSize struct {
	DataSize     Size
	PointerCount uint16
}

// totalSize returns the total word-aligned size of an object with this
// layout: the data section plus one word per pointer.
func (sz ObjectSize) totalSize() Size {
	return sz.DataSize + Size(sz.PointerCount)*wordSize
}

// isZero reports whether sz describes an empty (data-less, pointer-less)
// object.
func (sz ObjectSize) isZero() bool {
	return sz.DataSize == 0 && sz.PointerCount == 0
}

// maxSegmentSize is the largest number of bytes a single segment may hold;
// bounded so that word counts fit in the 32-bit fields used on the wire.
const maxSegmentSize = Size(math.MaxUint32 - 7)

// maxAllocSize returns the largest single allocation the arena will honor.
func maxAllocSize() Size {
	return maxSegmentSize
}

const maxInt = int(^uint(0) >> 1)

package capnpcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawStructPointerRoundTrip(t *testing.T) {
	sz := ObjectSize{DataSize: 16, PointerCount: 2}
	raw := rawStructPointer(0, sz).withOffset(5)
	assert.Equal(t, structPointer, raw.pointerType())
	assert.Equal(t, int32(5), raw.offset())
	assert.Equal(t, sz, raw.structSize())
}

func TestRawListPointerRoundTrip(t *testing.T) {
	raw := rawListPointer(0, sizeFourBytes, 100).withOffset(-3)
	assert.Equal(t, listPointer, raw.pointerType())
	assert.Equal(t, int32(-3), raw.offset())
	assert.Equal(t, sizeFourBytes, raw.listElementSize())
	assert.Equal(t, int32(100), raw.numListElements())
}

func TestRawCompositeListPointer(t *testing.T) {
	raw := rawCompositeListPointer(0, 42)
	assert.Equal(t, listPointer, raw.pointerType())
	assert.Equal(t, sizeInlineComposite, raw.listElementSize())
	total, ok := raw.totalListSize()
	assert.True(t, ok)
	assert.Equal(t, Size(42*8), total)
}

func TestRawFarPointer(t *testing.T) {
	raw := rawFarPointer(7, 800)
	assert.Equal(t, farPointer, raw.pointerType())
	assert.False(t, raw.isDoubleFar())
	assert.Equal(t, SegmentID(7), raw.farSegment())
	assert.Equal(t, Address(800), raw.farAddress())

	draw := rawDoubleFarPointer(9, 16)
	assert.Equal(t, doubleFarPointer, draw.pointerType())
	assert.True(t, draw.isDoubleFar())
}

func TestRawCapabilityPointer(t *testing.T) {
	raw := rawCapabilityPointer(12)
	assert.Equal(t, otherPointer, raw.pointerType())
	assert.Equal(t, uint8(0), raw.otherPointerType())
	assert.Equal(t, uint32(12), raw.capabilityIndex())
}

func TestNullPointerIsZero(t *testing.T) {
	var raw rawPointer
	assert.Equal(t, structPointer, raw.pointerType())
	assert.Equal(t, uint64(0), uint64(raw))
}

func TestNearPointerOffset(t *testing.T) {
	// A pointer at address 0 targeting the word immediately following it
	// (address 8) has offset 0.
	assert.Equal(t, wireOffset(0), nearPointerOffset(0, 8))
	assert.Equal(t, wireOffset(1), nearPointerOffset(0, 16))
	assert.Equal(t, wireOffset(-1), nearPointerOffset(16, 16))
}

func TestWireOffsetResolve(t *testing.T) {
	addr, ok := wireOffset(0).resolve(0)
	assert.True(t, ok)
	assert.Equal(t, Address(8), addr)

	addr, ok = wireOffset(-1).resolve(16)
	assert.True(t, ok)
	assert.Equal(t, Address(16), addr)
}

func TestElementSizeEncodingsMatchSpec(t *testing.T) {
	assert.Equal(t, elementSizeEnum(0), sizeVoid)
	assert.Equal(t, elementSizeEnum(1), sizeBit)
	assert.Equal(t, elementSizeEnum(2), sizeByte)
	assert.Equal(t, elementSizeEnum(3), sizeTwoBytes)
	assert.Equal(t, elementSizeEnum(4), sizeFourBytes)
	assert.Equal(t, elementSizeEnum(5), sizeEightBytes)
	assert.Equal(t, elementSizeEnum(6), sizePointer)
	assert.Equal(t, elementSizeEnum(7), sizeInlineComposite)
}

package packed

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPackShortExample is the worked example from the Cap'n Proto
// encoding documentation: a single word with two non-zero bytes.
func TestPackShortExample(t *testing.T) {
	packedBytes := []byte{0x24, 0x0c, 0x22}
	want := []byte{0x00, 0x00, 0x0c, 0x00, 0x00, 0x22, 0x00, 0x00}

	got, err := Unpack(nil, packedBytes)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, packedBytes, Pack(nil, want))
}

// TestLongZeroRunSplitsPast256Words packs a run of more all-zero words
// than one record's run-length byte can describe (1 implicit + 255
// additional); it must be split across multiple zero-run records, and
// the split must still round-trip exactly. 257 words is the smallest
// run that cannot fit in a single record.
func TestLongZeroRunSplitsPast256Words(t *testing.T) {
	src := make([]byte, 8*257)
	packedBytes := Pack(nil, src)

	zeroRecords := 0
	for i := 0; i < len(packedBytes); {
		if packedBytes[i] != 0x00 {
			t.Fatalf("expected an all-zero-word tag at %d, found 0x%02x", i, packedBytes[i])
		}
		assert.LessOrEqual(t, int(packedBytes[i+1]), 255)
		zeroRecords++
		i += 2
	}
	assert.GreaterOrEqual(t, zeroRecords, 2)

	got, err := Unpack(nil, packedBytes)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

// A run of exactly 256 zero words (1 implicit + the maximum 255
// additional) fits in a single record; confirms the cap is inclusive.
func TestExactly256ZeroWordsFitsOneRecord(t *testing.T) {
	src := make([]byte, 8*256)
	packedBytes := Pack(nil, src)
	assert.Equal(t, []byte{0x00, 255}, packedBytes)

	got, err := Unpack(nil, packedBytes)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

// TestLongNonZeroRunSplitsAt256Words packs a long all-non-zero buffer,
// which must be split at 256-word boundaries: truncating a larger run
// count into the one-byte field would silently corrupt the stream.
func TestLongNonZeroRunSplitsAt256Words(t *testing.T) {
	src := make([]byte, 100000-(100000%8)+8) // round up to a whole number of words
	for i := range src {
		src[i] = byte(i%255 + 1) // every byte non-zero
	}
	packedBytes := Pack(nil, src)

	got, err := Unpack(nil, packedBytes)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	// Verify the 255-run cap was honored: no run-length byte following a
	// 0xff tag may exceed 255 (a naive implementation could truncate a
	// larger count into the byte, silently corrupting the stream).
	i := 0
	for i < len(packedBytes) {
		tag := packedBytes[i]
		i++
		switch tag {
		case 0x00:
			i++ // skip count byte
		case 0xff:
			i += wordLen
			count := packedBytes[i]
			i++
			i += wordLen * int(count)
			assert.LessOrEqual(t, int(count), 255)
		default:
			for b := 0; b < wordLen; b++ {
				if tag&(1<<uint(b)) != 0 {
					i++
				}
			}
		}
	}
}

func TestPackUnpackIdentityRandomish(t *testing.T) {
	// Deterministic pseudo-random-looking buffer exercising a mix of
	// zero, non-zero, and mixed words.
	src := make([]byte, 8*64)
	for i := range src {
		switch {
		case i/8%3 == 0:
			src[i] = 0
		case i/8%3 == 1:
			src[i] = byte(i + 1)
		default:
			if i%8 < 3 {
				src[i] = byte(i)
			}
		}
	}
	packedBytes := Pack(nil, src)
	got, err := Unpack(nil, packedBytes)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestReaderWriterStreamRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}, 40)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write(src)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	got := make([]byte, len(src))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestWriterRejectsPartialWordOnClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Error(t, w.Close())
}

func TestUnpackRejectsTruncatedStream(t *testing.T) {
	_, err := Unpack(nil, []byte{0xff, 1, 2, 3})
	assert.Error(t, err)

	_, err = Unpack(nil, []byte{0x00})
	assert.Error(t, err)
}

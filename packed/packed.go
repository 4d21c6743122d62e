// Package packed implements Cap'n Proto's packed encoding: a simple
// byte-level run-length transform applied to an already-framed message,
// squeezing out the zero bytes that a word-aligned, pointer-heavy wire
// format tends to accumulate.
package packed

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

const wordLen = 8

// maxRun is the largest run of same-category words a single tag/count
// pair can describe: the count byte is one byte wide, and it counts
// words beyond the first, so a run tops out at 1+255 words.
const maxRun = 255

// Pack appends the packed encoding of src to dst and returns the
// extended slice. src's length must be a multiple of a word (8 bytes);
// any trailing partial word is packed as if padded with zeros.
func Pack(dst, src []byte) []byte {
	for i := 0; i < len(src); i += wordLen {
		word := loadWord(src[i:])
		if isZeroWord(word) {
			dst = append(dst, 0x00)
			run := 0
			j := i + wordLen
			for run < maxRun && j < len(src) && isZeroWord(loadWord(src[j:])) {
				run++
				j += wordLen
			}
			dst = append(dst, byte(run))
			i = j - wordLen
			continue
		}
		if isNonZeroWord(word) {
			dst = append(dst, 0xff)
			dst = append(dst, word[:]...)
			run := 0
			j := i + wordLen
			for run < maxRun && j < len(src) && isNonZeroWord(loadWord(src[j:])) {
				run++
				j += wordLen
			}
			if run > 0 {
				dst = append(dst, byte(run))
				dst = append(dst, src[i+wordLen:j]...)
			} else {
				dst = append(dst, 0)
			}
			i = j - wordLen
			continue
		}
		var tag byte
		var literal [wordLen]byte
		nLit := 0
		for b := 0; b < wordLen; b++ {
			if word[b] != 0 {
				tag |= 1 << uint(b)
				literal[nLit] = word[b]
				nLit++
			}
		}
		dst = append(dst, tag)
		dst = append(dst, literal[:nLit]...)
	}
	return dst
}

func loadWord(b []byte) [wordLen]byte {
	var w [wordLen]byte
	copy(w[:], b)
	return w
}

func isZeroWord(w [wordLen]byte) bool {
	return w == [wordLen]byte{}
}

func isNonZeroWord(w [wordLen]byte) bool {
	for _, b := range w {
		if b == 0 {
			return false
		}
	}
	return true
}

// Unpack appends the unpacked form of src to dst and returns the extended
// slice, or an error if src is truncated or malformed.
func Unpack(dst, src []byte) ([]byte, error) {
	i := 0
	for i < len(src) {
		tag := src[i]
		i++
		switch tag {
		case 0x00:
			if i >= len(src) {
				return nil, errors.New("capnp: packed stream ends mid zero-run tag")
			}
			count := src[i]
			i++
			dst = append(dst, make([]byte, wordLen*(int(count)+1))...)
		case 0xff:
			if i+wordLen > len(src) {
				return nil, errors.New("capnp: packed stream ends mid literal word")
			}
			dst = append(dst, src[i:i+wordLen]...)
			i += wordLen
			if i >= len(src) {
				return nil, errors.New("capnp: packed stream ends mid raw-run count")
			}
			count := src[i]
			i++
			n := wordLen * int(count)
			if i+n > len(src) {
				return nil, errors.New("capnp: packed stream ends mid raw run")
			}
			dst = append(dst, src[i:i+n]...)
			i += n
		default:
			var word [wordLen]byte
			for b := 0; b < wordLen; b++ {
				if tag&(1<<uint(b)) != 0 {
					if i >= len(src) {
						return nil, errors.New("capnp: packed stream ends mid tagged word")
					}
					word[b] = src[i]
					i++
				}
			}
			dst = append(dst, word[:]...)
		}
	}
	return dst, nil
}

// Reader decodes a packed byte stream incrementally.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader returns a Reader that unpacks bytes read from r.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

func (d *Reader) Read(p []byte) (int, error) {
	for len(d.buf) == 0 {
		if err := d.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (d *Reader) fill() error {
	tag, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	switch tag {
	case 0x00:
		count, err := d.r.ReadByte()
		if err != nil {
			return unexpectedEOF(err)
		}
		d.buf = make([]byte, wordLen*(int(count)+1))
	case 0xff:
		word := make([]byte, wordLen)
		if _, err := io.ReadFull(d.r, word); err != nil {
			return unexpectedEOF(err)
		}
		count, err := d.r.ReadByte()
		if err != nil {
			return unexpectedEOF(err)
		}
		if count > 0 {
			raw := make([]byte, wordLen*int(count))
			if _, err := io.ReadFull(d.r, raw); err != nil {
				return unexpectedEOF(err)
			}
			word = append(word, raw...)
		}
		d.buf = word
	default:
		word := make([]byte, wordLen)
		for b := 0; b < wordLen; b++ {
			if tag&(1<<uint(b)) != 0 {
				c, err := d.r.ReadByte()
				if err != nil {
					return unexpectedEOF(err)
				}
				word[b] = c
			}
		}
		d.buf = word
	}
	return nil
}

// Writer packs bytes written to it and forwards the packed form to an
// underlying io.Writer. Writes must total a whole number of words;
// Close reports an incomplete trailing word as an error.
type Writer struct {
	w   io.Writer
	buf [wordLen]byte
	n   int
}

// NewWriter returns a Writer that packs bytes before forwarding them to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (e *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		k := copy(e.buf[e.n:], p)
		e.n += k
		p = p[k:]
		if e.n == wordLen {
			if err := e.flushWord(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (e *Writer) flushWord() error {
	out := Pack(nil, e.buf[:])
	e.n = 0
	_, err := e.w.Write(out)
	return err
}

// Close flushes any internal state and reports an error if a partial
// word was never completed.
func (e *Writer) Close() error {
	if e.n != 0 {
		return errors.New("capnp: packed writer closed with a partial word pending")
	}
	return nil
}

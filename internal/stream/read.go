package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// vlqMaxGroups caps a VLQ at four 16-bit groups (60 payload bits).
const vlqMaxGroups = 4

// Codec errors. Decode failures wrap one of these sentinels so callers can
// classify them with errors.Is.
var (
	// ErrUnexpectedEnd is returned when a read would run past the end of
	// the imported buffer.
	ErrUnexpectedEnd = errors.New("stream: unexpected end of buffer")

	// ErrValueTooLarge is returned when a value cannot be represented as a
	// VLQ (2^60 or larger).
	ErrValueTooLarge = errors.New("stream: value too large for VLQ")

	// ErrInvalidUTF8 is returned when decoded string bytes are not valid
	// UTF-8.
	ErrInvalidUTF8 = errors.New("stream: string is not valid UTF-8")

	// ErrStringTooShort is returned by ReadStringBounds when the decoded
	// length is below the caller's minimum.
	ErrStringTooShort = errors.New("stream: string below minimum length")

	// ErrStringTooLong is returned by ReadStringBounds when the decoded
	// length is above the caller's maximum.
	ErrStringTooLong = errors.New("stream: string above maximum length")
)

// ReadStream decodes primitives from an imported byte buffer, advancing a
// cursor by exactly the number of bytes each read consumes.
type ReadStream struct {
	buf []byte
	pos int
}

// NewReadStream creates an empty read stream. Import must be called before
// reading.
func NewReadStream() *ReadStream {
	return &ReadStream{}
}

// Import replaces the stream contents and rewinds the cursor. The stream
// keeps a reference to p; the caller must not mutate it while decoding.
func (r *ReadStream) Import(p []byte) {
	r.buf = p
	r.pos = 0
}

// Pos reports the cursor position in bytes from the start of the buffer.
func (r *ReadStream) Pos() int {
	return r.pos
}

// Remaining reports how many bytes are left to read.
func (r *ReadStream) Remaining() int {
	return len(r.buf) - r.pos
}

// AtEnd reports whether the cursor has consumed the whole buffer.
func (r *ReadStream) AtEnd() bool {
	return r.pos >= len(r.buf)
}

func (r *ReadStream) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrUnexpectedEnd, n, r.Remaining())
	}
	return nil
}

// ReadU8 reads a single byte.
func (r *ReadStream) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadU16 reads two bytes in little-endian order.
func (r *ReadStream) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadU32 reads four bytes in little-endian order.
func (r *ReadStream) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 reads eight bytes in little-endian order.
func (r *ReadStream) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadBytes reads exactly n raw bytes into a fresh slice.
func (r *ReadStream) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:])
	r.pos += n
	return out, nil
}

// ReadVLQ reads a variable-length quantity. Reading stops after the fourth
// 16-bit group no matter what its continuation bit says; a malformed chain
// longer than four groups is truncated, not an error.
func (r *ReadStream) ReadVLQ() (uint64, error) {
	var v uint64
	for i := 0; i < vlqMaxGroups; i++ {
		group, err := r.ReadU16()
		if err != nil {
			return 0, err
		}
		v |= uint64(group&0x7FFF) << (i * 15)

		if group&0x8000 == 0 {
			break
		}
	}
	return v, nil
}

// ReadString reads a VLQ length prefix followed by that many bytes, and
// validates the result as UTF-8.
func (r *ReadStream) ReadString() (string, error) {
	length, err := r.ReadVLQ()
	if err != nil {
		return "", err
	}
	return r.readStringBody(length)
}

// ReadStringBounds is ReadString with enforced length bounds: the decode
// fails before consuming the body when the prefix is outside [min, max].
func (r *ReadStream) ReadStringBounds(min, max uint64) (string, error) {
	length, err := r.ReadVLQ()
	if err != nil {
		return "", err
	}
	if length < min {
		return "", fmt.Errorf("%w: %d < %d", ErrStringTooShort, length, min)
	}
	if length > max {
		return "", fmt.Errorf("%w: %d > %d", ErrStringTooLong, length, max)
	}
	return r.readStringBody(length)
}

func (r *ReadStream) readStringBody(length uint64) (string, error) {
	if uint64(r.Remaining()) < length {
		return "", fmt.Errorf("%w: string length %d exceeds buffer", ErrUnexpectedEnd, length)
	}
	body := r.buf[r.pos : r.pos+int(length)]
	if !utf8.Valid(body) {
		return "", ErrInvalidUTF8
	}
	r.pos += int(length)
	return string(body), nil
}

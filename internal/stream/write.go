// Package stream implements the primitive byte codec shared by every wire
// format in the project: little-endian fixed-width integers, variable-length
// quantities (VLQ) and length-prefixed strings, read and written through an
// explicit cursor so callers never guess byte counts.
package stream

import "encoding/binary"

// WriteStream accumulates encoded bytes in an append-only buffer.
// The zero value is ready to use.
type WriteStream struct {
	buf []byte
}

// NewWriteStream creates an empty write stream.
func NewWriteStream() *WriteStream {
	return &WriteStream{}
}

// WriteU8 appends a single byte.
func (w *WriteStream) WriteU8(b uint8) {
	w.buf = append(w.buf, b)
}

// WriteU16 appends two bytes in little-endian order.
func (w *WriteStream) WriteU16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteU32 appends four bytes in little-endian order.
func (w *WriteStream) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteU64 appends eight bytes in little-endian order.
func (w *WriteStream) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteBytes appends raw bytes with no framing.
func (w *WriteStream) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteVLQ appends a variable-length quantity. Each 16-bit group carries 15
// payload bits plus a continuation flag in the top bit, for at most four
// groups (60 payload bits). Values of 2^60 or larger are not representable
// and are rejected with ErrValueTooLarge.
func (w *WriteStream) WriteVLQ(v uint64) error {
	if v >= 1<<60 {
		return ErrValueTooLarge
	}

	shift := v
	for i := 0; i < vlqMaxGroups; i++ {
		group := uint16(shift & 0x7FFF)
		shift >>= 15

		if shift != 0 {
			group |= 0x8000
		}
		w.WriteU16(group)

		if shift == 0 {
			break
		}
	}
	return nil
}

// WriteString appends a VLQ length prefix followed by the string's raw bytes.
func (w *WriteStream) WriteString(s string) error {
	if err := w.WriteVLQ(uint64(len(s))); err != nil {
		return err
	}
	w.buf = append(w.buf, s...)
	return nil
}

// Bytes returns the accumulated buffer. The slice aliases internal storage
// and is only valid until the next write or Reset.
func (w *WriteStream) Bytes() []byte {
	return w.buf
}

// Export returns the accumulated buffer and resets the stream for reuse.
func (w *WriteStream) Export() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	w.buf = w.buf[:0]
	return out
}

// Len reports the number of bytes written so far.
func (w *WriteStream) Len() int {
	return len(w.buf)
}

// Reset discards the accumulated buffer, keeping the storage for reuse.
func (w *WriteStream) Reset() {
	w.buf = w.buf[:0]
}

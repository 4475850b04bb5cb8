package ntp

import (
	"errors"
	"fmt"

	"github.com/eggine/eggnet/internal/stream"
)

// MagicNumber opens every clock-sync datagram, distinguishing the sync
// traffic (which runs on its own port pair) from transport packets.
const MagicNumber = "EGGINENTP"

// MaxPacketSize bounds a clock-sync datagram. Anything larger is a protocol
// violation and the datagram is discarded.
const MaxPacketSize = 64

// Packet type discriminants.
const (
	packetTypeRequest  uint8 = 0
	packetTypeResponse uint8 = 1
)

// Decode errors.
var (
	// ErrInvalidMagicNumber is returned when a datagram does not carry the
	// clock-sync magic.
	ErrInvalidMagicNumber = errors.New("ntp: invalid magic number")

	// ErrInvalidPacketType is returned for an unknown packet type
	// discriminant.
	ErrInvalidPacketType = errors.New("ntp: invalid packet type")

	// ErrUnknownIndex is returned when a response echoes a request index we
	// have no send time recorded for.
	ErrUnknownIndex = errors.New("ntp: response for unknown request index")
)

// Request asks a peer for its clock readings. Index is a rolling counter
// matching responses back to recorded send times.
type Request struct {
	Index uint8
}

// Encode writes the magic, the request discriminant and the index.
func (p *Request) Encode(w *stream.WriteStream) error {
	if err := w.WriteString(MagicNumber); err != nil {
		return err
	}
	w.WriteU8(packetTypeRequest)
	w.WriteU8(p.Index)
	return nil
}

// Response carries the server's clock readings for one request: its receive
// and send timestamps in microseconds and its clock-read precision in
// nanoseconds.
type Response struct {
	Index       uint8
	ReceiveTime int64
	Precision   uint64
	SendTime    int64
}

// Encode writes the magic, the response discriminant, the echoed index and
// the timing fields. Timestamps go out as 128-bit integers, low half first.
func (p *Response) Encode(w *stream.WriteStream) error {
	if err := w.WriteString(MagicNumber); err != nil {
		return err
	}
	w.WriteU8(packetTypeResponse)
	w.WriteU8(p.Index)
	writeTime(w, p.ReceiveTime)
	w.WriteU64(p.Precision)
	writeTime(w, p.SendTime)
	return nil
}

// decodeHeader consumes the magic string and returns the packet type.
func decodeHeader(r *stream.ReadStream) (uint8, error) {
	magic, err := r.ReadStringBounds(uint64(len(MagicNumber)), uint64(len(MagicNumber)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMagicNumber, err)
	}
	if magic != MagicNumber {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMagicNumber, magic)
	}

	packetType, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	switch packetType {
	case packetTypeRequest, packetTypeResponse:
		return packetType, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPacketType, packetType)
	}
}

func decodeRequest(r *stream.ReadStream) (*Request, error) {
	index, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	return &Request{Index: index}, nil
}

func decodeResponse(r *stream.ReadStream) (*Response, error) {
	p := &Response{}
	var err error
	if p.Index, err = r.ReadU8(); err != nil {
		return nil, err
	}
	if p.ReceiveTime, err = readTime(r); err != nil {
		return nil, err
	}
	if p.Precision, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if p.SendTime, err = readTime(r); err != nil {
		return nil, err
	}
	return p, nil
}

// writeTime encodes a microsecond timestamp as a sign-extended 128-bit
// little-endian integer: low 64 bits, then the sign extension.
func writeTime(w *stream.WriteStream, t int64) {
	w.WriteU64(uint64(t))
	w.WriteU64(uint64(t >> 63))
}

// readTime decodes a 128-bit timestamp. Only the low 64 bits carry value;
// the high half is sign extension and is discarded.
func readTime(r *stream.ReadStream) (int64, error) {
	low, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	if _, err := r.ReadU64(); err != nil {
		return 0, err
	}
	return int64(low), nil
}

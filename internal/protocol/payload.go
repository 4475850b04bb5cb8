package protocol

import (
	"fmt"

	"github.com/eggine/eggnet/internal/stream"
)

// SubPayloadType is the 1-byte discriminant written before each sub-payload.
type SubPayloadType uint8

// Sub-payload discriminants. Zero is an invalid sentinel and never appears
// on the wire.
const (
	SubPayloadInvalid      SubPayloadType = 0
	SubPayloadData         SubPayloadType = 1
	SubPayloadCreateStream SubPayloadType = 2
	SubPayloadPing         SubPayloadType = 3
	SubPayloadPong         SubPayloadType = 4
	SubPayloadDisconnect   SubPayloadType = 5
)

// DisconnectReason explains why a peer is dropping the connection.
type DisconnectReason uint8

const (
	// DisconnectInvalid is a sentinel that must never be serialized;
	// encoding it is an error.
	DisconnectInvalid DisconnectReason = 0
	// DisconnectRequested is sent by a client asking for a graceful
	// disconnect.
	DisconnectRequested DisconnectReason = 1
	// DisconnectTimeout is sent by the server when a client's time-to-live
	// expired. The client may well never receive it.
	DisconnectTimeout DisconnectReason = 2
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectRequested:
		return "requested"
	case DisconnectTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(r))
	}
}

func (r DisconnectReason) encode(w *stream.WriteStream) error {
	switch r {
	case DisconnectRequested, DisconnectTimeout:
		w.WriteU8(uint8(r))
		return nil
	default:
		return fmt.Errorf("%w: cannot encode %d", ErrInvalidDisconnectReason, uint8(r))
	}
}

func decodeDisconnectReason(r *stream.ReadStream) (DisconnectReason, error) {
	b, err := r.ReadU8()
	if err != nil {
		return DisconnectInvalid, err
	}
	switch reason := DisconnectReason(b); reason {
	case DisconnectRequested, DisconnectTimeout:
		return reason, nil
	default:
		return DisconnectInvalid, fmt.Errorf("%w: code %d", ErrInvalidDisconnectReason, b)
	}
}

// SubPayload is one tagged entry in a packet's payload list.
type SubPayload interface {
	// Type returns the wire discriminant of this sub-payload.
	Type() SubPayloadType

	encodeBody(w *stream.WriteStream) error
}

// Data carries opaque application bytes, length-prefixed with a VLQ.
type Data struct {
	Bytes []byte
}

func (d Data) Type() SubPayloadType { return SubPayloadData }

func (d Data) encodeBody(w *stream.WriteStream) error {
	if err := w.WriteVLQ(uint64(len(d.Bytes))); err != nil {
		return err
	}
	w.WriteBytes(d.Bytes)
	return nil
}

// Ping asks the peer for a Pong echo. Time is a wall-clock millisecond
// timestamp stamped by the sender.
type Ping struct {
	Time uint64
}

func (p Ping) Type() SubPayloadType { return SubPayloadPing }

func (p Ping) encodeBody(w *stream.WriteStream) error {
	w.WriteU64(p.Time)
	return nil
}

// Pong answers a Ping, echoing nothing of the ping itself; Time is the
// responder's own wall-clock millisecond timestamp.
type Pong struct {
	Time uint64
}

func (p Pong) Type() SubPayloadType { return SubPayloadPong }

func (p Pong) encodeBody(w *stream.WriteStream) error {
	w.WriteU64(p.Time)
	return nil
}

// Disconnect tells the peer the connection is over.
type Disconnect struct {
	Reason DisconnectReason
}

func (d Disconnect) Type() SubPayloadType { return SubPayloadDisconnect }

func (d Disconnect) encodeBody(w *stream.WriteStream) error {
	return d.Reason.encode(w)
}

func encodeSubPayload(w *stream.WriteStream, sp SubPayload) error {
	switch sp.Type() {
	case SubPayloadData, SubPayloadPing, SubPayloadPong, SubPayloadDisconnect:
	default:
		return fmt.Errorf("%w: cannot encode type %d", ErrInvalidSubPayloadType, sp.Type())
	}
	w.WriteU8(uint8(sp.Type()))
	return sp.encodeBody(w)
}

func decodeSubPayload(r *stream.ReadStream) (SubPayload, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	switch SubPayloadType(tag) {
	case SubPayloadData:
		length, err := r.ReadVLQ()
		if err != nil {
			return nil, err
		}
		if length > uint64(r.Remaining()) {
			return nil, fmt.Errorf("%w: data length %d exceeds buffer", stream.ErrUnexpectedEnd, length)
		}
		body, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, err
		}
		return Data{Bytes: body}, nil

	case SubPayloadPing:
		t, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		return Ping{Time: t}, nil

	case SubPayloadPong:
		t, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		return Pong{Time: t}, nil

	case SubPayloadDisconnect:
		reason, err := decodeDisconnectReason(r)
		if err != nil {
			return nil, err
		}
		return Disconnect{Reason: reason}, nil

	case SubPayloadCreateStream:
		// Reserved discriminant. Stream multiplexing is not part of the
		// protocol, so a peer sending it is talking a different dialect.
		return nil, fmt.Errorf("%w: reserved type %d", ErrInvalidSubPayloadType, tag)

	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidSubPayloadType, tag)
	}
}

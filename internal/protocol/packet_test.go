package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eggine/eggnet/internal/stream"
)

// TestPacketRoundTrip verifies that a packet carrying one of each sub-payload
// type survives an encode/decode cycle in order.
func TestPacketRoundTrip(t *testing.T) {
	var mask AckMask
	mask.SetFirst()
	mask.Shift(2)
	mask.SetFirst()

	original := Packet{}
	original.Add(Data{Bytes: []byte("hello")})
	original.Add(Ping{Time: 1234})
	original.Add(Pong{Time: 5678})
	original.Add(Disconnect{Reason: DisconnectRequested})
	original.Prepare(mask, 42, 17)

	w := stream.NewWriteStream()
	require.NoError(t, original.Encode(w))

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.NoError(t, decoded.Decode(r))

	require.Equal(t, uint32(42), decoded.Sequence)
	require.Equal(t, uint32(17), decoded.LastSequence)
	require.Equal(t, mask, decoded.AckMask)

	payloads := decoded.SubPayloads()
	require.Len(t, payloads, 4)
	require.Equal(t, Data{Bytes: []byte("hello")}, payloads[0])
	require.Equal(t, Ping{Time: 1234}, payloads[1])
	require.Equal(t, Pong{Time: 5678}, payloads[2])
	require.Equal(t, Disconnect{Reason: DisconnectRequested}, payloads[3])
}

// TestPacketEmptyRoundTrip verifies that a header-only packet decodes with no
// sub-payloads.
func TestPacketEmptyRoundTrip(t *testing.T) {
	original := Packet{Sequence: 1, LastSequence: 0}
	require.True(t, original.Empty())

	w := stream.NewWriteStream()
	require.NoError(t, original.Encode(w))
	// u32 + u32 + two mask words.
	require.Equal(t, 4+4+16, w.Len())

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.NoError(t, decoded.Decode(r))
	require.True(t, decoded.Empty())
}

// TestPacketNext verifies that Next clears the payload list for the following
// tick.
func TestPacketNext(t *testing.T) {
	p := Packet{}
	p.Add(Ping{Time: 1})
	require.False(t, p.Empty())

	p.Next()
	require.True(t, p.Empty())
}

// TestDecodeUnknownSubPayload verifies that an unknown discriminant fails the
// whole packet decode.
func TestDecodeUnknownSubPayload(t *testing.T) {
	w := stream.NewWriteStream()
	p := Packet{}
	require.NoError(t, p.Encode(w))
	w.WriteU8(99)

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.ErrorIs(t, decoded.Decode(r), ErrInvalidSubPayloadType)
}

// TestDecodeReservedSubPayload verifies that the reserved stream-creation
// discriminant is rejected.
func TestDecodeReservedSubPayload(t *testing.T) {
	w := stream.NewWriteStream()
	p := Packet{}
	require.NoError(t, p.Encode(w))
	w.WriteU8(uint8(SubPayloadCreateStream))

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.ErrorIs(t, decoded.Decode(r), ErrInvalidSubPayloadType)
}

// TestDecodeDataLengthOverrun verifies that a data length prefix larger than
// the remaining buffer fails instead of reading past the end.
func TestDecodeDataLengthOverrun(t *testing.T) {
	w := stream.NewWriteStream()
	p := Packet{}
	require.NoError(t, p.Encode(w))
	w.WriteU8(uint8(SubPayloadData))
	require.NoError(t, w.WriteVLQ(1000))
	w.WriteBytes([]byte("short"))

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.ErrorIs(t, decoded.Decode(r), stream.ErrUnexpectedEnd)
}

// TestEncodeInvalidDisconnectReason verifies that the invalid sentinel cannot
// be serialized.
func TestEncodeInvalidDisconnectReason(t *testing.T) {
	p := Packet{}
	p.Add(Disconnect{Reason: DisconnectInvalid})

	w := stream.NewWriteStream()
	require.ErrorIs(t, p.Encode(w), ErrInvalidDisconnectReason)
}

// TestDecodeInvalidDisconnectReason verifies that an out-of-range reason code
// fails the decode.
func TestDecodeInvalidDisconnectReason(t *testing.T) {
	w := stream.NewWriteStream()
	p := Packet{}
	require.NoError(t, p.Encode(w))
	w.WriteU8(uint8(SubPayloadDisconnect))
	w.WriteU8(200)

	var decoded Packet
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.ErrorIs(t, decoded.Decode(r), ErrInvalidDisconnectReason)
}

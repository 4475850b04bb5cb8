package ntp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eggine/eggnet/internal/stream"
)

// TestRequestRoundTrip verifies the request wire layout end to end.
func TestRequestRoundTrip(t *testing.T) {
	original := Request{Index: 42}

	w := stream.NewWriteStream()
	require.NoError(t, original.Encode(w))

	r := stream.NewReadStream()
	r.Import(w.Bytes())

	packetType, err := decodeHeader(r)
	require.NoError(t, err)
	require.Equal(t, packetTypeRequest, packetType)

	decoded, err := decodeRequest(r)
	require.NoError(t, err)
	require.Equal(t, original, *decoded)
	require.True(t, r.AtEnd())
}

// TestResponseRoundTrip verifies the response wire layout, including
// negative timestamps whose sign extension must survive the 128-bit
// encoding.
func TestResponseRoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		response Response
	}{
		{
			name: "typical",
			response: Response{
				Index:       7,
				ReceiveTime: 1_700_000_000_000_000,
				Precision:   1200,
				SendTime:    1_700_000_000_000_050,
			},
		},
		{
			name: "pre-epoch timestamps",
			response: Response{
				Index:       255,
				ReceiveTime: -1_000_000,
				Precision:   1,
				SendTime:    -999_950,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := stream.NewWriteStream()
			require.NoError(t, tc.response.Encode(w))
			require.LessOrEqual(t, w.Len(), MaxPacketSize)

			r := stream.NewReadStream()
			r.Import(w.Bytes())

			packetType, err := decodeHeader(r)
			require.NoError(t, err)
			require.Equal(t, packetTypeResponse, packetType)

			decoded, err := decodeResponse(r)
			require.NoError(t, err)
			require.Equal(t, tc.response, *decoded)
			require.True(t, r.AtEnd())
		})
	}
}

// TestTimeSignExtension pins the 128-bit timestamp layout: low half carries
// the value, high half carries only the sign.
func TestTimeSignExtension(t *testing.T) {
	w := stream.NewWriteStream()
	writeTime(w, -1)

	r := stream.NewReadStream()
	r.Import(w.Bytes())

	low, err := r.ReadU64()
	require.NoError(t, err)
	require.Equal(t, ^uint64(0), low)

	high, err := r.ReadU64()
	require.NoError(t, err)
	require.Equal(t, ^uint64(0), high)

	w.Reset()
	writeTime(w, 5)
	r.Import(w.Bytes())

	low, _ = r.ReadU64()
	require.Equal(t, uint64(5), low)
	high, _ = r.ReadU64()
	require.Equal(t, uint64(0), high)
}

// TestDecodeBadMagic verifies that a foreign datagram is rejected at the
// header.
func TestDecodeBadMagic(t *testing.T) {
	w := stream.NewWriteStream()
	require.NoError(t, w.WriteString("EGGINENOT"))
	w.WriteU8(packetTypeRequest)

	r := stream.NewReadStream()
	r.Import(w.Bytes())
	_, err := decodeHeader(r)
	require.ErrorIs(t, err, ErrInvalidMagicNumber)
}

// TestDecodeBadType verifies that an unknown discriminant is rejected.
func TestDecodeBadType(t *testing.T) {
	w := stream.NewWriteStream()
	require.NoError(t, w.WriteString(MagicNumber))
	w.WriteU8(9)

	r := stream.NewReadStream()
	r.Import(w.Bytes())
	_, err := decodeHeader(r)
	require.ErrorIs(t, err, ErrInvalidPacketType)
}

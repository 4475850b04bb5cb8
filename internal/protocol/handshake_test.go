package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eggine/eggnet/internal/stream"
)

func testHandshake() Handshake {
	return Handshake{
		Sequences: [2]uint32{1000, 500},
		Checksum:  APIChecksum(),
		Version:   Version{Branch: "main", Major: 1, Minor: 2, Revision: 7},
	}
}

// TestHandshakeRoundTrip verifies that a handshake survives an encode/decode
// cycle with all fields intact.
func TestHandshakeRoundTrip(t *testing.T) {
	original := testHandshake()

	w := stream.NewWriteStream()
	require.NoError(t, original.Encode(w))

	var decoded Handshake
	r := stream.NewReadStream()
	r.Import(w.Bytes())
	require.NoError(t, decoded.Decode(r))

	require.Equal(t, original, decoded)
	require.True(t, r.AtEnd())
	require.True(t, original.Compatible(&decoded))
}

// TestHandshakeBadMagic verifies that a corrupted magic byte fails the decode
// at that byte, without consuming anything past it.
func TestHandshakeBadMagic(t *testing.T) {
	original := testHandshake()
	w := stream.NewWriteStream()
	require.NoError(t, original.Encode(w))

	buf := w.Bytes()
	buf[2] ^= 0xFF

	var decoded Handshake
	r := stream.NewReadStream()
	r.Import(buf)
	err := decoded.Decode(r)
	require.ErrorIs(t, err, ErrInvalidMagicNumber)
	require.Equal(t, 3, r.Pos())
}

// TestHandshakeBranchBounds verifies that branch names outside [3, 32] bytes
// are rejected on decode.
func TestHandshakeBranchBounds(t *testing.T) {
	for _, branch := range []string{"ab", "this-branch-name-is-far-too-long-to-accept"} {
		hs := testHandshake()
		hs.Version.Branch = branch

		w := stream.NewWriteStream()
		require.NoError(t, hs.Encode(w))

		var decoded Handshake
		r := stream.NewReadStream()
		r.Import(w.Bytes())
		require.Error(t, decoded.Decode(r))
	}
}

// TestHandshakeCompatibility verifies that only the checksum decides
// compatibility; version differences alone do not.
func TestHandshakeCompatibility(t *testing.T) {
	a := testHandshake()
	b := testHandshake()
	b.Version = Version{Branch: "dev", Major: 9, Minor: 9, Revision: 9}
	require.True(t, a.Compatible(&b))

	b.Checksum[0] ^= 0xFF
	require.False(t, a.Compatible(&b))
}

// TestVersionString pins the display format.
func TestVersionString(t *testing.T) {
	v := Version{Branch: "main", Major: 1, Minor: 4, Revision: 23}
	require.Equal(t, "v1.4.main#23", v.String())
}

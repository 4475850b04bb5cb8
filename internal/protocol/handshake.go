// Package protocol defines the wire packet model of the transport: the
// connection handshake, the per-tick sequenced packet with its sub-payloads,
// and the sliding acknowledge mask. All encoding goes through the stream
// package; integers are little-endian.
package protocol

import (
	"crypto/md5"
	"fmt"

	"github.com/eggine/eggnet/internal/stream"
)

// MagicNumber opens every handshake datagram.
const MagicNumber = "EGGINE"

// ChecksumSize is the byte width of the API fingerprint carried in a
// handshake.
const ChecksumSize = 16

// Branch name length bounds enforced on decode.
const (
	minBranchLength = 3
	maxBranchLength = 32
)

// Version identifies the build a peer is running: major/minor numbers, the
// git branch it was built from, and the revision count since the last
// major-minor release on that branch.
type Version struct {
	Branch   string
	Major    uint16
	Minor    uint16
	Revision uint16
}

// Encode writes the version as three u16 values followed by the branch name.
func (v *Version) Encode(w *stream.WriteStream) error {
	w.WriteU16(v.Major)
	w.WriteU16(v.Minor)
	w.WriteU16(v.Revision)
	return w.WriteString(v.Branch)
}

// Decode reads a version, enforcing the branch name length bounds.
func (v *Version) Decode(r *stream.ReadStream) error {
	var err error
	if v.Major, err = r.ReadU16(); err != nil {
		return err
	}
	if v.Minor, err = r.ReadU16(); err != nil {
		return err
	}
	if v.Revision, err = r.ReadU16(); err != nil {
		return err
	}
	v.Branch, err = r.ReadStringBounds(minBranchLength, maxBranchLength)
	return err
}

func (v *Version) String() string {
	return fmt.Sprintf("v%d.%d.%s#%d", v.Major, v.Minor, v.Branch, v.Revision)
}

// Handshake is the first datagram exchanged on a connection. The client
// sends one to the server; the server validates it and echoes one back
// carrying the sequence numbers both sides will start from.
type Handshake struct {
	// Sequences carries the negotiated starting sequence pair. In a server
	// reply, Sequences[0] is the sequence the receiving client must adopt as
	// its own and Sequences[1] is the sequence the server starts from.
	Sequences [2]uint32
	// Checksum fingerprints the wire protocol. Peers with different
	// checksums cannot exchange packets.
	Checksum [ChecksumSize]byte
	// Version of the build the sending peer is running.
	Version Version
}

// Compatible reports whether two handshakes agree on the protocol
// fingerprint. Version differences are surfaced to the caller through the
// Version field; only the checksum decides compatibility.
func (h *Handshake) Compatible(other *Handshake) bool {
	return h.Checksum == other.Checksum
}

// Encode writes the handshake: magic bytes, sequence pair, checksum,
// version.
func (h *Handshake) Encode(w *stream.WriteStream) error {
	w.WriteBytes([]byte(MagicNumber))
	w.WriteU32(h.Sequences[0])
	w.WriteU32(h.Sequences[1])
	w.WriteBytes(h.Checksum[:])
	return h.Version.Encode(w)
}

// Decode reads a handshake. The magic bytes are matched one at a time and a
// mismatch fails with ErrInvalidMagicNumber without reading any further.
func (h *Handshake) Decode(r *stream.ReadStream) error {
	for i := 0; i < len(MagicNumber); i++ {
		b, err := r.ReadU8()
		if err != nil {
			return err
		}
		if b != MagicNumber[i] {
			return fmt.Errorf("%w: byte %d is 0x%02x", ErrInvalidMagicNumber, i, b)
		}
	}

	var err error
	if h.Sequences[0], err = r.ReadU32(); err != nil {
		return err
	}
	if h.Sequences[1], err = r.ReadU32(); err != nil {
		return err
	}

	checksum, err := r.ReadBytes(ChecksumSize)
	if err != nil {
		return err
	}
	copy(h.Checksum[:], checksum)

	return h.Version.Decode(r)
}

// APIChecksum derives the protocol fingerprint placed in handshakes. It
// hashes a canonical description of the wire layout, so any change to the
// packet format produces incompatible peers instead of silent desync.
func APIChecksum() [ChecksumSize]byte {
	descriptor := fmt.Sprintf(
		"%s|seq:u32,last:u32,mask:%dxu64|data:%d,create:%d,ping:%d,pong:%d,drop:%d",
		MagicNumber, maskWords,
		SubPayloadData, SubPayloadCreateStream, SubPayloadPing, SubPayloadPong, SubPayloadDisconnect,
	)
	return md5.Sum([]byte(descriptor))
}

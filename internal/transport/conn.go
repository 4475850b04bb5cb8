package transport

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/eggine/eggnet/internal/protocol"
)

// Connection is the server-side state for one admitted peer. It is owned
// exclusively by the server's tick loop; nothing else touches it.
type Connection struct {
	// Address the peer talks from; also the table key.
	Address *net.UDPAddr
	// ID correlates log lines for this connection even if the address is
	// later reused by another peer.
	ID uuid.UUID

	// Sequence is our outgoing counter on this connection.
	Sequence uint32
	// LastSequenceReceived is the highest sequence seen from the peer.
	// Meaningless until HasReceived is set.
	LastSequenceReceived uint32
	HasReceived          bool
	// HighestAcked is the highest of our sequences the peer has
	// acknowledged. Meaningless until HasAcked is set.
	HighestAcked uint32
	HasAcked     bool
	// AckMask records which recent peer sequences arrived.
	AckMask protocol.AckMask

	// LastActivity is when the peer last sent anything; drives timeout
	// disconnects.
	LastActivity time.Time
	// LastPing is when we last pinged the peer, for round-trip logging.
	LastPing time.Time

	// Outgoing is the packet under construction for the next tick.
	Outgoing protocol.Packet
}

// reconcileResult is the atomic outcome of folding one received packet into
// session state. It is computed in full before anything is applied, so
// dispatch handlers never observe a half-updated session.
type reconcileResult struct {
	mask           protocol.AckMask
	remoteSequence uint32
	hasRemote      bool
	highestAcked   uint32
	hasAcked       bool

	// acked and dropped classify our own recently sent sequences by the
	// peer's acknowledge mask: sequences the peer has now confirmed, and
	// sequences it can no longer confirm (lost, or aged out of its mask).
	acked   []uint32
	dropped []uint32
}

// reconcileSequences folds a received packet into the local sequence state:
// it ages the acknowledge mask by the sequence gap and marks the new packet,
// advances the last-seen remote sequence, and raises (never lowers) the
// highest sequence the peer has acknowledged.
//
// Stale packets — a sequence at or below the newest already seen — do not
// move the window; arbitrary gaps are absorbed by the mask shift, which
// simply ages out history the mask can no longer represent.
func reconcileSequences(
	pkt *protocol.Packet,
	mask protocol.AckMask,
	lastRemote uint32, hasRemote bool,
	highestAcked uint32, hasAcked bool,
) reconcileResult {
	res := reconcileResult{
		mask:           mask,
		remoteSequence: pkt.Sequence,
		hasRemote:      true,
		highestAcked:   pkt.LastSequence,
		hasAcked:       true,
	}

	switch {
	case !hasRemote:
		res.mask.SetFirst()
	case pkt.Sequence > lastRemote:
		res.mask.Shift(pkt.Sequence - lastRemote)
		res.mask.SetFirst()
	default:
		// Stale or duplicate packet; keep the newest sequence.
		res.remoteSequence = lastRemote
	}

	if hasAcked && highestAcked > res.highestAcked {
		res.highestAcked = highestAcked
	}

	// Classify the sequences newly covered by the peer's acknowledgement,
	// clamped to what its mask can actually answer for.
	if hasAcked && res.highestAcked > highestAcked {
		start := highestAcked + 1
		if res.highestAcked-start >= protocol.MaskBits {
			start = res.highestAcked - protocol.MaskBits + 1
		}
		for seq := start; seq != res.highestAcked+1; seq++ {
			if received, ok := pkt.AckMask.Test(res.highestAcked - seq); ok && received {
				res.acked = append(res.acked, seq)
			} else {
				res.dropped = append(res.dropped, seq)
			}
		}
	}

	return res
}

// applyPacket reconciles pkt against the connection and applies the result
// in one step, returning the acked/dropped classification.
func (c *Connection) applyPacket(pkt *protocol.Packet) (acked, dropped []uint32) {
	res := reconcileSequences(
		pkt, c.AckMask,
		c.LastSequenceReceived, c.HasReceived,
		c.HighestAcked, c.HasAcked,
	)

	c.AckMask = res.mask
	c.LastSequenceReceived = res.remoteSequence
	c.HasReceived = res.hasRemote
	c.HighestAcked = res.highestAcked
	c.HasAcked = res.hasAcked

	return res.acked, res.dropped
}

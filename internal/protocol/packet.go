package protocol

import (
	"github.com/eggine/eggnet/internal/stream"
)

// Packet is the unit a peer sends at most once per tick. It carries the
// sender's sequence number, an echo of the highest sequence the sender has
// received from the peer, a snapshot of the sender's acknowledge mask, and
// an ordered list of sub-payloads.
type Packet struct {
	// Sequence identifies this packet on the connection that sent it.
	// Strictly increases by 1 per packet from a given sender.
	Sequence uint32
	// LastSequence is the highest sequence number the sender believes it
	// has received from the peer, echoed for round-trip accounting.
	LastSequence uint32
	// AckMask snapshots which of the sender's recently received sequences
	// arrived.
	AckMask AckMask

	subPayloads []SubPayload
}

// Add appends a sub-payload to the packet under construction.
func (p *Packet) Add(sp SubPayload) {
	p.subPayloads = append(p.subPayloads, sp)
}

// SubPayloads returns the packet's payload list in order.
func (p *Packet) SubPayloads() []SubPayload {
	return p.subPayloads
}

// Empty reports whether the packet has no sub-payloads queued.
func (p *Packet) Empty() bool {
	return len(p.subPayloads) == 0
}

// Prepare stamps the header fields for the next send.
func (p *Packet) Prepare(mask AckMask, sequence, lastSequence uint32) {
	p.AckMask = mask
	p.Sequence = sequence
	p.LastSequence = lastSequence
}

// Next resets the payload list so the next tick starts from an empty packet.
func (p *Packet) Next() {
	p.subPayloads = p.subPayloads[:0]
}

// Encode writes the packet header followed by each tagged sub-payload.
func (p *Packet) Encode(w *stream.WriteStream) error {
	w.WriteU32(p.Sequence)
	w.WriteU32(p.LastSequence)
	p.AckMask.Encode(w)

	for _, sp := range p.subPayloads {
		if err := encodeSubPayload(w, sp); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a packet, consuming sub-payloads until the end of the buffer.
// An unknown discriminant fails the whole decode.
func (p *Packet) Decode(r *stream.ReadStream) error {
	var err error
	if p.Sequence, err = r.ReadU32(); err != nil {
		return err
	}
	if p.LastSequence, err = r.ReadU32(); err != nil {
		return err
	}
	if err = p.AckMask.Decode(r); err != nil {
		return err
	}

	p.subPayloads = nil
	for !r.AtEnd() {
		sp, err := decodeSubPayload(r)
		if err != nil {
			return err
		}
		p.subPayloads = append(p.subPayloads, sp)
	}
	return nil
}

// Package transport implements the reliable-UDP session layer: handshake
// negotiation, per-tick packet exchange with sequence numbers and
// acknowledge masks, and dispatch of decoded sub-payloads. A Client drives
// one connection; a Server keeps a table of them. Both are single-threaded
// tick loops over non-blocking sockets; the only cross-goroutine traffic is
// raw datagrams on a bounded channel.
//
// Delivery is at-most-once: the acknowledge mask observes loss (surfaced
// through the loss callback) but nothing is retransmitted. Callers that
// need a payload to arrive must queue it again when it is reported dropped.
package transport

import "time"

// MaxPacketSize bounds a transport datagram. It stays under common MTUs so
// packets are not fragmented (fragmented UDP is dropped often enough to
// matter); 1400 leaves room for IP/UDP headers within a 1500-byte MTU.
const MaxPacketSize = 1400

// TickInterval is the cadence hosts are expected to drive Tick at.
const TickInterval = 33 * time.Millisecond

// connectionTimeout is how long a server keeps a silent connection before
// disconnecting it with DisconnectTimeout.
const connectionTimeout = 30 * time.Second

// Starting sequence numbers the server hands out during the handshake.
// The values are arbitrary; starting away from zero makes a mixed-up
// direction obvious in traces.
const (
	serverStartSequence uint32 = 500
	clientStartSequence uint32 = 1000
)

// inboundCapacity bounds the channel between the server's receive goroutine
// and its tick loop. A full channel stalls the receive goroutine
// (back-pressure) instead of growing without limit.
const inboundCapacity = 100

// nowMillis is the wall-clock millisecond timestamp carried by pings.
func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

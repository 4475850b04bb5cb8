package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eggine/eggnet/internal/metrics"
	"github.com/eggine/eggnet/internal/ntp"
	"github.com/eggine/eggnet/internal/protocol"
	"github.com/eggine/eggnet/internal/stream"
	"github.com/eggine/eggnet/internal/util"
)

// Client is one side of a reliable-UDP session: it initiates the handshake,
// then exchanges at most one packet per tick with the server. All methods
// must be called from a single goroutine; Tick never blocks on the network.
type Client struct {
	localAddress string
	socket       *net.UDPConn

	// handshake is what we send during connection initialization; the
	// server's reply is validated against its checksum.
	handshake protocol.Handshake

	// sequence is our outgoing packet counter.
	sequence uint32
	// lastSequenceReceived is the highest sequence seen from the server.
	// Meaningless until hasReceived is set.
	lastSequenceReceived uint32
	hasReceived          bool
	// highestAcked is the highest of our sequences the server has
	// acknowledged. Meaningless until hasAcked is set.
	highestAcked uint32
	hasAcked     bool
	ackMask      protocol.AckMask

	// connected flips once the server's handshake reply is validated.
	connected    bool
	lastActivity time.Time

	outgoing protocol.Packet
	send     *stream.WriteStream
	recv     *stream.ReadStream
	recvBuf  [MaxPacketSize + 1]byte

	sync *ntp.Session

	onData func([]byte)
	onLoss func(acked, dropped []uint32)
}

// NewClient prepares a client that will bind localAddress (use "[::]:0" for
// an ephemeral port) when the connection is initialized.
func NewClient(localAddress string, version protocol.Version) *Client {
	return &Client{
		localAddress: localAddress,
		handshake: protocol.Handshake{
			Checksum: protocol.APIChecksum(),
			Version:  version,
		},
		send: stream.NewWriteStream(),
		recv: stream.NewReadStream(),
	}
}

// OnData registers the callback invoked for every Data sub-payload received
// while established.
func (c *Client) OnData(fn func([]byte)) {
	c.onData = fn
}

// OnLoss registers the callback invoked when received acknowledgements
// classify our recently sent sequences as delivered or lost. There is no
// retransmission; this is the hook for callers who want to re-queue.
func (c *Client) OnLoss(fn func(acked, dropped []uint32)) {
	c.onLoss = fn
}

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	return c.connected
}

// Close shuts down the sockets.
func (c *Client) Close() error {
	var syncErr error
	if c.sync != nil {
		syncErr = c.sync.Close()
	}
	if c.socket != nil {
		if err := c.socket.Close(); err != nil {
			return err
		}
	}
	return syncErr
}

// SyncRegister exposes the clock-sync sample history, nil before the
// connection is initialized.
func (c *Client) SyncRegister() *ntp.ShiftRegister {
	if c.sync == nil {
		return nil
	}
	return c.sync.Register()
}

// InitializeConnection binds the local socket, connects it to the server
// address, sends our handshake, and starts the clock-sync session on the
// neighbouring port pair (local+1 → remote+1).
func (c *Client) InitializeConnection(address string) error {
	local, err := net.ResolveUDPAddr("udp", c.localAddress)
	if err != nil {
		return newError(KindSocket, nil, err)
	}
	remote, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return newError(KindSocket, nil, err)
	}

	c.socket, err = net.DialUDP("udp", local, remote)
	if err != nil {
		return newError(KindSocket, remote, err)
	}

	util.LogInfo("establishing connection to %v...", remote)

	if err := c.handshake.Encode(c.send); err != nil {
		c.send.Reset()
		return newError(KindHandshake, remote, err)
	}
	if err := c.sendBytes(c.send.Export()); err != nil {
		return err
	}
	c.lastActivity = time.Now()

	// The clock-sync exchange lives one port above the transport pair.
	syncLocal := *c.socket.LocalAddr().(*net.UDPAddr)
	syncLocal.Port++
	syncRemote := *remote
	syncRemote.Port++

	c.sync, err = ntp.NewSession(syncLocal.String(), syncRemote.String())
	if err != nil {
		return newError(KindSync, &syncRemote, err)
	}

	return nil
}

// Ping queues a ping carrying the current wall clock. No-op until the
// connection is established.
func (c *Client) Ping() {
	if !c.connected {
		return
	}
	c.outgoing.Add(protocol.Ping{Time: nowMillis()})
}

// SendData queues opaque application bytes for the next tick's packet.
// No-op until the connection is established.
func (c *Client) SendData(data []byte) {
	if !c.connected {
		return
	}
	c.outgoing.Add(protocol.Data{Bytes: data})
}

// Disconnect queues a graceful disconnect request. The server drops the
// connection when it processes it.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.outgoing.Add(protocol.Disconnect{Reason: protocol.DisconnectRequested})
}

// Tick performs one cycle of network work: flush the outgoing packet if
// anything is queued, drain every datagram already waiting on the socket,
// then pump the clock-sync session. Non-fatal errors are logged and
// absorbed; fatal ones propagate and end the session.
func (c *Client) Tick() error {
	if c.connected && !c.outgoing.Empty() {
		c.sequence++
		lastSequence := uint32(0)
		if c.hasReceived {
			lastSequence = c.lastSequenceReceived
		}
		c.outgoing.Prepare(c.ackMask, c.sequence, lastSequence)

		if err := c.outgoing.Encode(c.send); err != nil {
			c.send.Reset()
			return newError(KindDesync, nil, err)
		}
		if err := c.sendBytes(c.send.Export()); err != nil {
			return err
		}
		metrics.PacketsSent.Inc()
		c.outgoing.Next()
	}

	for {
		err := c.receive()
		if err == nil {
			continue
		}
		var e *Error
		if errors.As(err, &e) && e.Kind == KindWouldBlock {
			break
		}
		if IsFatal(err) {
			return err
		}
		util.LogWarning("dropping datagram: %v", err)
	}

	if c.connected && time.Since(c.lastActivity) > connectionTimeout {
		util.LogWarning("server went silent, dropping connection")
		return &Error{Kind: KindDisconnected, Addr: c.socket.RemoteAddr(), Reason: protocol.DisconnectTimeout}
	}

	if c.connected && c.sync != nil {
		if err := c.sync.Tick(); err != nil {
			if ntp.IsFatal(err) {
				return newError(KindSync, nil, err)
			}
			util.LogDebug("clock sync: %v", err)
		}
	}

	return nil
}

// receive polls the socket once and dispatches whatever arrives.
func (c *Client) receive() error {
	if c.socket == nil {
		return newError(KindWouldBlock, nil, nil)
	}
	if err := c.socket.SetReadDeadline(time.Now()); err != nil {
		return newError(KindSocket, nil, err)
	}

	n, err := c.socket.Read(c.recvBuf[:])
	if err != nil {
		if isWouldBlock(err) {
			return newError(KindWouldBlock, nil, err)
		}
		return newError(KindSocket, nil, err)
	}
	metrics.AddReceived(n)

	if n > MaxPacketSize {
		metrics.OversizedDropped.Inc()
		return newError(KindPacketTooBig, nil, nil)
	}

	c.lastActivity = time.Now()
	c.recv.Import(c.recvBuf[:n])

	if !c.connected {
		return c.handleHandshake()
	}
	return c.handlePacket()
}

// handleHandshake validates the server's reply and adopts the negotiated
// sequence pair. Anything unexpected here is fatal: we are either talking
// to an incompatible build or to something that is not a server at all.
func (c *Client) handleHandshake() error {
	var reply protocol.Handshake
	if err := reply.Decode(c.recv); err != nil {
		return newError(KindHandshake, c.socket.RemoteAddr(), err)
	}
	if !c.handshake.Compatible(&reply) {
		return newError(KindHandshake, c.socket.RemoteAddr(),
			fmt.Errorf("incompatible checksum (their version %s, ours %s)",
				reply.Version.String(), c.handshake.Version.String()))
	}

	c.sequence = reply.Sequences[0]
	c.lastSequenceReceived = reply.Sequences[1]
	c.hasReceived = true
	c.connected = true

	util.LogInfo("connection established (sequences %d/%d)", c.sequence, c.lastSequenceReceived)
	return nil
}

// handlePacket decodes one established-state packet, folds it into the
// sequence state in a single step, then dispatches its sub-payloads.
func (c *Client) handlePacket() error {
	var pkt protocol.Packet
	if err := pkt.Decode(c.recv); err != nil {
		metrics.DecodeFailures.Inc()
		return newError(KindDesync, c.socket.RemoteAddr(), err)
	}
	metrics.PacketsReceived.Inc()

	res := reconcileSequences(
		&pkt, c.ackMask,
		c.lastSequenceReceived, c.hasReceived,
		c.highestAcked, c.hasAcked,
	)
	c.ackMask = res.mask
	c.lastSequenceReceived = res.remoteSequence
	c.hasReceived = res.hasRemote
	c.highestAcked = res.highestAcked
	c.hasAcked = res.hasAcked

	if len(res.dropped) > 0 {
		metrics.SequencesDropped.Add(float64(len(res.dropped)))
	}
	if c.onLoss != nil && (len(res.acked) > 0 || len(res.dropped) > 0) {
		c.onLoss(res.acked, res.dropped)
	}

	for _, sp := range pkt.SubPayloads() {
		switch sp := sp.(type) {
		case protocol.Disconnect:
			util.LogInfo("server disconnected us: %s", sp.Reason)
			return &Error{Kind: KindDisconnected, Addr: c.socket.RemoteAddr(), Reason: sp.Reason}

		case protocol.Ping:
			util.LogDebug("got ping with time %d", sp.Time)
			c.outgoing.Add(protocol.Pong{Time: nowMillis()})

		case protocol.Pong:
			util.LogDebug("got pong with time %d", sp.Time)

		case protocol.Data:
			if c.onData != nil {
				c.onData(sp.Bytes)
			}
		}
	}

	return nil
}

// sendBytes writes one datagram to the connected socket.
func (c *Client) sendBytes(payload []byte) error {
	n, err := c.socket.Write(payload)
	if err != nil {
		return newError(KindSocket, c.socket.RemoteAddr(), err)
	}
	metrics.AddSent(n)
	return nil
}

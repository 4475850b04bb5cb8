package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/eggine/eggnet/internal/metrics"
	"github.com/eggine/eggnet/internal/ntp"
	"github.com/eggine/eggnet/internal/protocol"
	"github.com/eggine/eggnet/internal/stream"
	"github.com/eggine/eggnet/internal/util"
)

// serverDatagram crosses the receive-goroutine boundary: raw bytes plus the
// source address.
type serverDatagram struct {
	addr *net.UDPAddr
	buf  [MaxPacketSize + 1]byte
	n    int
}

// Server accepts handshakes and keeps a table of admitted connections,
// exchanging at most one packet per connection per tick. It also runs the
// clock-sync responder one port above the transport socket and whitelists
// each admitted peer's sync address there.
//
// Socket reads happen on a background goroutine feeding a bounded channel;
// everything else, including all connection state, is owned by the goroutine
// driving Tick.
type Server struct {
	socket    *net.UDPConn
	handshake protocol.Handshake

	connections map[string]*Connection
	// blacklist holds IPs (not full addresses) that sent malformed
	// handshakes; everything from them is discarded.
	blacklist map[string]struct{}

	inbound chan serverDatagram
	send    *stream.WriteStream
	recv    *stream.ReadStream

	sync *ntp.Server

	onData func(addr *net.UDPAddr, data []byte)
	onLoss func(addr *net.UDPAddr, acked, dropped []uint32)
}

// NewServer binds the transport socket and the clock-sync responder one port
// above it, then starts the receive goroutine.
func NewServer(address string, version protocol.Version) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, newError(KindSocket, nil, err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, newError(KindSocket, udpAddr, err)
	}

	syncAddr := *socket.LocalAddr().(*net.UDPAddr)
	syncAddr.Port++
	sync, err := ntp.NewServer(syncAddr.String())
	if err != nil {
		socket.Close()
		return nil, newError(KindSync, &syncAddr, err)
	}

	s := &Server{
		socket: socket,
		handshake: protocol.Handshake{
			Checksum: protocol.APIChecksum(),
			Version:  version,
		},
		connections: make(map[string]*Connection),
		blacklist:   make(map[string]struct{}),
		inbound:     make(chan serverDatagram, inboundCapacity),
		send:        stream.NewWriteStream(),
		recv:        stream.NewReadStream(),
		sync:        sync,
	}
	go s.receiveLoop()

	util.LogInfo("listening on %v", socket.LocalAddr())
	return s, nil
}

// OnData registers the callback invoked for every Data sub-payload received
// from an admitted connection.
func (s *Server) OnData(fn func(addr *net.UDPAddr, data []byte)) {
	s.onData = fn
}

// OnLoss registers the callback invoked when a connection's acknowledgements
// classify our recently sent sequences as delivered or lost.
func (s *Server) OnLoss(fn func(addr *net.UDPAddr, acked, dropped []uint32)) {
	s.onLoss = fn
}

// Addr returns the bound transport address, useful when binding port 0.
func (s *Server) Addr() *net.UDPAddr {
	return s.socket.LocalAddr().(*net.UDPAddr)
}

// ConnectionCount returns the number of admitted connections.
func (s *Server) ConnectionCount() int {
	return len(s.connections)
}

// Close shuts down both sockets, which also stops the receive goroutine.
func (s *Server) Close() error {
	syncErr := s.sync.Close()
	if err := s.socket.Close(); err != nil {
		return err
	}
	return syncErr
}

// receiveLoop blocks on the socket and forwards datagrams into the bounded
// channel. It exits (closing the channel) when the socket is closed.
func (s *Server) receiveLoop() {
	for {
		var d serverDatagram
		n, addr, err := s.socket.ReadFromUDP(d.buf[:])
		if err != nil {
			close(s.inbound)
			return
		}
		d.n = n
		d.addr = addr
		s.inbound <- d
	}
}

// Tick performs one cycle of server work: flush one packet to every
// connection with queued sub-payloads, drain and dispatch all pending
// datagrams, disconnect connections that have gone silent, then pump the
// clock-sync responder. Non-fatal errors are logged and absorbed.
func (s *Server) Tick() error {
	for _, conn := range s.connections {
		if conn.Outgoing.Empty() {
			continue
		}
		if err := s.flush(conn); err != nil {
			return err
		}
	}

drain:
	for {
		select {
		case d, ok := <-s.inbound:
			if !ok {
				return newError(KindChannelClosed, nil, nil)
			}
			if err := s.process(&d); err != nil {
				if IsFatal(err) {
					return err
				}
				util.LogWarning("dropping datagram: %v", err)
			}
		default:
			break drain
		}
	}

	deadline := time.Now().Add(-connectionTimeout)
	for _, conn := range s.connections {
		if conn.LastActivity.Before(deadline) {
			util.LogInfo("connection %v (%v) timed out", conn.ID, conn.Address)
			if err := s.DisconnectClient(conn.Address, protocol.DisconnectTimeout); err != nil {
				util.LogWarning("disconnecting %v: %v", conn.Address, err)
			}
		}
	}

	if err := s.sync.Tick(); err != nil {
		if ntp.IsFatal(err) {
			return newError(KindSync, nil, err)
		}
		util.LogDebug("clock sync: %v", err)
	}

	return nil
}

// flush seals the connection's outgoing packet and sends it.
func (s *Server) flush(conn *Connection) error {
	conn.Sequence++
	lastSequence := uint32(0)
	if conn.HasReceived {
		lastSequence = conn.LastSequenceReceived
	}
	conn.Outgoing.Prepare(conn.AckMask, conn.Sequence, lastSequence)

	if err := conn.Outgoing.Encode(s.send); err != nil {
		s.send.Reset()
		return newError(KindDecode, conn.Address, err)
	}
	payload := s.send.Export()
	if _, err := s.socket.WriteToUDP(payload, conn.Address); err != nil {
		return newError(KindSocket, conn.Address, err)
	}
	metrics.PacketsSent.Inc()
	metrics.AddSent(len(payload))
	conn.Outgoing.Next()
	return nil
}

// process dispatches one received datagram: established connections get
// packet handling, unknown senders get handshake admission, blacklisted IPs
// get nothing.
func (s *Server) process(d *serverDatagram) error {
	if _, banned := s.blacklist[d.addr.IP.String()]; banned {
		return newError(KindBlacklisted, d.addr, nil)
	}

	metrics.AddReceived(d.n)
	if d.n > MaxPacketSize {
		metrics.OversizedDropped.Inc()
		s.blacklist[d.addr.IP.String()] = struct{}{}
		util.LogBlacklist("%v sent an oversized datagram (%d bytes)", d.addr, d.n)
		return newError(KindPacketTooBig, d.addr, nil)
	}

	s.recv.Import(d.buf[:d.n])

	if conn, ok := s.connections[d.addr.String()]; ok {
		conn.LastActivity = time.Now()
		return s.handlePacket(conn)
	}
	return s.initializeConnection(d.addr)
}

// initializeConnection validates an unknown sender's handshake and admits the
// connection, replying with the starting sequence pair. A sender whose first
// datagram is not a well-formed compatible handshake is blacklisted by IP.
func (s *Server) initializeConnection(addr *net.UDPAddr) error {
	var hs protocol.Handshake
	if err := hs.Decode(s.recv); err != nil {
		s.blacklist[addr.IP.String()] = struct{}{}
		util.LogBlacklist("%v sent an invalid handshake: %v", addr, err)
		return newError(KindHandshakeRejected, addr, err)
	}
	if !s.handshake.Compatible(&hs) {
		s.blacklist[addr.IP.String()] = struct{}{}
		util.LogBlacklist("%v runs an incompatible build (%s)", addr, hs.Version.String())
		return newError(KindHandshakeRejected, addr,
			fmt.Errorf("incompatible checksum (their version %s, ours %s)",
				hs.Version.String(), s.handshake.Version.String()))
	}

	conn := &Connection{
		Address:      addr,
		ID:           uuid.New(),
		Sequence:     serverStartSequence,
		HighestAcked: serverStartSequence,
		HasAcked:     true,
		LastActivity: time.Now(),
	}
	s.connections[addr.String()] = conn
	metrics.ActiveConnections.Inc()

	// The peer's clock-sync session runs one port above its transport port.
	syncAddr := *addr
	syncAddr.Port++
	s.sync.Allow(&syncAddr)

	reply := s.handshake
	reply.Sequences = [2]uint32{clientStartSequence, serverStartSequence}
	if err := reply.Encode(s.send); err != nil {
		s.send.Reset()
		return newError(KindHandshakeRejected, addr, err)
	}
	payload := s.send.Export()
	if _, err := s.socket.WriteToUDP(payload, addr); err != nil {
		return newError(KindSocket, addr, err)
	}
	metrics.AddSent(len(payload))

	util.LogInfo("admitted %v as connection %v (version %s)", addr, conn.ID, hs.Version.String())
	return nil
}

// handlePacket decodes one packet from an admitted connection, folds it into
// the connection's sequence state, and dispatches its sub-payloads. A decode
// failure rejects only that datagram.
func (s *Server) handlePacket(conn *Connection) error {
	var pkt protocol.Packet
	if err := pkt.Decode(s.recv); err != nil {
		metrics.DecodeFailures.Inc()
		return newError(KindDecode, conn.Address, err)
	}
	metrics.PacketsReceived.Inc()

	acked, dropped := conn.applyPacket(&pkt)
	if len(dropped) > 0 {
		metrics.SequencesDropped.Add(float64(len(dropped)))
	}
	if s.onLoss != nil && (len(acked) > 0 || len(dropped) > 0) {
		s.onLoss(conn.Address, acked, dropped)
	}

	for _, sp := range pkt.SubPayloads() {
		switch sp := sp.(type) {
		case protocol.Disconnect:
			util.LogInfo("connection %v requested disconnect: %s", conn.ID, sp.Reason)
			return s.DisconnectClient(conn.Address, protocol.DisconnectRequested)

		case protocol.Ping:
			util.LogDebug("got ping from %v with time %d", conn.Address, sp.Time)
			conn.Outgoing.Add(protocol.Pong{Time: nowMillis()})

		case protocol.Pong:
			if !conn.LastPing.IsZero() {
				util.LogDebug("round trip to %v: %v", conn.Address, time.Since(conn.LastPing))
			}

		case protocol.Data:
			if s.onData != nil {
				s.onData(conn.Address, sp.Bytes)
			}
		}
	}

	return nil
}

// Ping queues a ping to the given connection and records when it was sent.
func (s *Server) Ping(addr *net.UDPAddr) error {
	conn, ok := s.connections[addr.String()]
	if !ok {
		return newError(KindUnknownConnection, addr, nil)
	}
	conn.Outgoing.Add(protocol.Ping{Time: nowMillis()})
	conn.LastPing = time.Now()
	return nil
}

// SendData queues opaque application bytes to the given connection.
func (s *Server) SendData(addr *net.UDPAddr, data []byte) error {
	conn, ok := s.connections[addr.String()]
	if !ok {
		return newError(KindUnknownConnection, addr, nil)
	}
	conn.Outgoing.Add(protocol.Data{Bytes: data})
	return nil
}

// Broadcast queues opaque application bytes to every admitted connection.
func (s *Server) Broadcast(data []byte) {
	for _, conn := range s.connections {
		conn.Outgoing.Add(protocol.Data{Bytes: data})
	}
}

// DisconnectClient tells the connection it is being dropped, flushes that
// notice immediately, and removes all server-side state for it.
func (s *Server) DisconnectClient(addr *net.UDPAddr, reason protocol.DisconnectReason) error {
	conn, ok := s.connections[addr.String()]
	if !ok {
		return newError(KindUnknownConnection, addr, nil)
	}

	conn.Outgoing.Add(protocol.Disconnect{Reason: reason})
	flushErr := s.flush(conn)

	delete(s.connections, addr.String())
	metrics.ActiveConnections.Dec()

	syncAddr := *addr
	syncAddr.Port++
	s.sync.Revoke(&syncAddr)

	util.LogInfo("removed connection %v (%v)", conn.ID, addr)
	return flushErr
}

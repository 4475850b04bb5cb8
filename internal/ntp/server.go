package ntp

import (
	"net"

	"github.com/eggine/eggnet/internal/metrics"
	"github.com/eggine/eggnet/internal/stream"
	"github.com/eggine/eggnet/internal/util"
)

// inboundCapacity bounds the channel between the receive goroutine and the
// tick loop. When the tick loop falls behind, the receive goroutine stalls
// rather than buffering without limit.
const inboundCapacity = 100

// datagram is the only thing that crosses the receive-goroutine boundary:
// raw bytes, the source, and the arrival timestamp stamped as early as
// possible.
type datagram struct {
	addr     *net.UDPAddr
	buf      [MaxPacketSize + 1]byte
	n        int
	recvTime int64
}

// Server answers clock-sync requests. It owns its own UDP socket (by
// convention one port above the transport socket), benchmarks its clock-read
// precision once at startup, and only serves whitelisted peers. Socket reads
// happen on a background goroutine feeding a bounded channel; Tick drains
// the channel without blocking.
type Server struct {
	socket    *net.UDPConn
	precision uint64
	whitelist map[string]struct{}
	inbound   chan datagram
	send      *stream.WriteStream
}

// NewServer binds the responder socket and starts the receive goroutine.
func NewServer(address string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, newError(KindCreate, nil, err)
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, newError(KindCreate, udpAddr, err)
	}

	s := &Server{
		socket:    socket,
		precision: BenchmarkPrecision(),
		whitelist: make(map[string]struct{}),
		inbound:   make(chan datagram, inboundCapacity),
		send:      stream.NewWriteStream(),
	}
	go s.receiveLoop()

	util.LogDebug("clock-sync responder on %v, precision %dns", socket.LocalAddr(), s.precision)
	return s, nil
}

// Precision returns the benchmarked clock-read latency in nanoseconds.
func (s *Server) Precision() uint64 {
	return s.precision
}

// Allow admits a peer address to the whitelist.
func (s *Server) Allow(addr *net.UDPAddr) {
	s.whitelist[addr.String()] = struct{}{}
}

// Revoke removes a peer address from the whitelist.
func (s *Server) Revoke(addr *net.UDPAddr) {
	delete(s.whitelist, addr.String())
}

// Close shuts the socket down, which also stops the receive goroutine.
func (s *Server) Close() error {
	return s.socket.Close()
}

// receiveLoop blocks on the socket and forwards datagrams into the bounded
// channel. It exits (closing the channel) when the socket is closed.
func (s *Server) receiveLoop() {
	for {
		var d datagram
		n, addr, err := s.socket.ReadFromUDP(d.buf[:])
		if err != nil {
			close(s.inbound)
			return
		}
		d.n = n
		d.addr = addr
		d.recvTime = Micros()
		s.inbound <- d
	}
}

// Tick drains and answers all pending requests. Per-datagram failures are
// logged and absorbed; only a dead receive goroutine or a send failure
// propagates.
func (s *Server) Tick() error {
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
				util.LogDebug("clock-sync: dropping datagram: %v", err)
			}
		default:
			return nil
		}
	}
}

// process validates one datagram and answers it if it is a whitelisted
// request.
func (s *Server) process(d *datagram) error {
	if _, ok := s.whitelist[d.addr.String()]; !ok {
		return newError(KindNotWhitelisted, d.addr, nil)
	}
	if d.n > MaxPacketSize {
		metrics.OversizedDropped.Inc()
		return newError(KindPacketTooBig, d.addr, nil)
	}

	r := stream.NewReadStream()
	r.Import(d.buf[:d.n])

	packetType, err := decodeHeader(r)
	if err != nil {
		return newError(KindDecode, d.addr, err)
	}
	if packetType != packetTypeRequest {
		// Responses only ever flow server-to-client; one arriving here is a
		// confused or hostile peer.
		return newError(KindDecode, d.addr, ErrInvalidPacketType)
	}

	request, err := decodeRequest(r)
	if err != nil {
		return newError(KindDecode, d.addr, err)
	}

	return s.respond(d.addr, request, d.recvTime)
}

// respond sends the timing answer. The send timestamp is stamped immediately
// before the socket call so it is as honest as possible.
func (s *Server) respond(addr *net.UDPAddr, request *Request, recvTime int64) error {
	response := Response{
		Index:       request.Index,
		ReceiveTime: recvTime,
		Precision:   s.precision,
		SendTime:    Micros(),
	}
	if err := response.Encode(s.send); err != nil {
		s.send.Reset()
		return newError(KindDecode, addr, err)
	}

	if _, err := s.socket.WriteToUDP(s.send.Export(), addr); err != nil {
		return newError(KindSend, addr, err)
	}
	metrics.NtpRounds.Inc()
	return nil
}

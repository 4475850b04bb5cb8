package ntp

import (
	"errors"
	"net"
	"time"

	"github.com/eggine/eggnet/internal/metrics"
	"github.com/eggine/eggnet/internal/stream"
	"github.com/eggine/eggnet/internal/util"
)

// Session is the tick-integrated requester half of the clock-sync exchange.
// It owns a connected UDP socket, fires one request per tick, and feeds
// completed samples into its shift register. All socket operations are
// non-blocking; a tick never stalls.
type Session struct {
	socket *net.UDPConn
	// index is the rolling request counter; responses echo it back.
	index uint8
	// sendTimes records when each outstanding request left, keyed by index.
	sendTimes map[uint8]int64
	register  *ShiftRegister
	send      *stream.WriteStream
	recvBuf   [MaxPacketSize + 1]byte
}

// NewSession binds localAddress and connects the socket to remoteAddress.
func NewSession(localAddress, remoteAddress string) (*Session, error) {
	local, err := net.ResolveUDPAddr("udp", localAddress)
	if err != nil {
		return nil, newError(KindCreate, nil, err)
	}
	remote, err := net.ResolveUDPAddr("udp", remoteAddress)
	if err != nil {
		return nil, newError(KindCreate, nil, err)
	}

	socket, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, newError(KindCreate, remote, err)
	}

	return &Session{
		socket:    socket,
		sendTimes: make(map[uint8]int64),
		register:  NewShiftRegister(RegisterCapacity, BenchmarkPrecision()),
		send:      stream.NewWriteStream(),
	}, nil
}

// Register exposes the sample history for offset/jitter queries.
func (s *Session) Register() *ShiftRegister {
	return s.register
}

// Close shuts the session socket down.
func (s *Session) Close() error {
	return s.socket.Close()
}

// Tick sends one sync request and consumes every response already waiting on
// the socket. Skipped rounds are normal; only socket-level failures
// propagate.
func (s *Session) Tick() error {
	if err := s.request(); err != nil {
		return err
	}

	for {
		err := s.receive()
		if err == nil {
			continue
		}
		var e *Error
		if errors.As(err, &e) && e.Kind == KindWouldBlock {
			return nil
		}
		if IsFatal(err) {
			return err
		}
		util.LogDebug("clock-sync: dropping response: %v", err)
	}
}

// request fires the next sync request, recording the send timestamp
// immediately before the socket call.
func (s *Session) request() error {
	s.index++
	packet := Request{Index: s.index}
	if err := packet.Encode(s.send); err != nil {
		s.send.Reset()
		return newError(KindDecode, nil, err)
	}

	payload := s.send.Export()
	s.sendTimes[s.index] = Micros()
	if _, err := s.socket.Write(payload); err != nil {
		delete(s.sendTimes, s.index)
		return newError(KindSend, nil, err)
	}
	return nil
}

// receive polls the socket once. The arrival timestamp is stamped before any
// decoding happens.
func (s *Session) receive() error {
	if err := s.socket.SetReadDeadline(time.Now()); err != nil {
		return newError(KindReceive, nil, err)
	}

	n, err := s.socket.Read(s.recvBuf[:])
	if err != nil {
		if isWouldBlock(err) {
			return newError(KindWouldBlock, nil, err)
		}
		return newError(KindReceive, nil, err)
	}
	recvTime := Micros()

	return s.processResponse(s.recvBuf[:n], n, recvTime)
}

// processResponse turns one response datagram into a Times sample.
func (s *Session) processResponse(buf []byte, n int, recvTime int64) error {
	if n > MaxPacketSize {
		metrics.OversizedDropped.Inc()
		return newError(KindPacketTooBig, nil, nil)
	}

	r := stream.NewReadStream()
	r.Import(buf)

	packetType, err := decodeHeader(r)
	if err != nil {
		return newError(KindDecode, nil, err)
	}
	if packetType != packetTypeResponse {
		return newError(KindDecode, nil, ErrInvalidPacketType)
	}

	response, err := decodeResponse(r)
	if err != nil {
		return newError(KindDecode, nil, err)
	}

	sendTime, ok := s.sendTimes[response.Index]
	if !ok {
		return newError(KindDecode, nil, ErrUnknownIndex)
	}
	delete(s.sendTimes, response.Index)

	s.register.Add(Times{
		ClientSend:      sendTime,
		ClientReceive:   recvTime,
		ServerReceive:   response.ReceiveTime,
		ServerSend:      response.SendTime,
		ServerPrecision: response.Precision,
	})
	metrics.NtpRounds.Inc()
	return nil
}

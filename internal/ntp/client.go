package ntp

import (
	"net"
	"time"

	"github.com/eggine/eggnet/internal/stream"
)

// syncTimeout bounds how long a blocking sync call waits for the server's
// answer.
const syncTimeout = 5 * time.Second

// CorrectedTime pairs a raw system timestamp with the best known offset to
// the server's clock.
type CorrectedTime struct {
	// SystemTime is the local reading, microseconds since the Unix epoch.
	SystemTime int64
	// Offset is the estimated correction toward the server's clock.
	Offset float64
}

// Time is the corrected reading: local time plus offset.
func (c CorrectedTime) Time() float64 {
	return float64(c.SystemTime) + c.Offset
}

// Client is the standalone blocking variant of the clock-sync requester:
// each SyncOnce call performs one full request/response round-trip with a
// bounded wait, for callers that want a corrected clock without running a
// tick loop.
type Client struct {
	socket   *net.UDPConn
	index    uint8
	register *ShiftRegister
	send     *stream.WriteStream
	recvBuf  [MaxPacketSize + 1]byte
}

// NewClient binds localAddress and connects to the server's clock-sync
// address.
func NewClient(localAddress, remoteAddress string) (*Client, error) {
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

	return &Client{
		socket:   socket,
		register: NewShiftRegister(RegisterCapacity, BenchmarkPrecision()),
		send:     stream.NewWriteStream(),
	}, nil
}

// Register exposes the sample history for offset/jitter queries.
func (c *Client) Register() *ShiftRegister {
	return c.register
}

// Close shuts the socket down.
func (c *Client) Close() error {
	return c.socket.Close()
}

// Now returns the current system time corrected by the best known offset.
// Before the first successful sync the offset is zero.
func (c *Client) Now() CorrectedTime {
	offset := 0.0
	if best, ok := c.register.Best(); ok {
		offset = best.Offset()
	}
	return CorrectedTime{SystemTime: Micros(), Offset: offset}
}

// SyncOnce performs one blocking request/response round-trip and adds the
// resulting sample to the register. A server that stays silent past the
// timeout skips the round with KindTimeout; the caller may simply try again.
func (c *Client) SyncOnce() (Times, error) {
	c.index++
	packet := Request{Index: c.index}
	if err := packet.Encode(c.send); err != nil {
		c.send.Reset()
		return Times{}, newError(KindDecode, nil, err)
	}

	payload := c.send.Export()
	sendTime := Micros()
	if _, err := c.socket.Write(payload); err != nil {
		return Times{}, newError(KindSend, nil, err)
	}

	if err := c.socket.SetReadDeadline(time.Now().Add(syncTimeout)); err != nil {
		return Times{}, newError(KindReceive, nil, err)
	}

	// Answers to stale requests may still be in flight; keep reading until
	// the matching index arrives or the deadline passes.
	for {
		n, err := c.socket.Read(c.recvBuf[:])
		if err != nil {
			if isWouldBlock(err) {
				return Times{}, newError(KindTimeout, nil, err)
			}
			return Times{}, newError(KindReceive, nil, err)
		}
		recvTime := Micros()

		if n > MaxPacketSize {
			continue
		}

		r := stream.NewReadStream()
		r.Import(c.recvBuf[:n])

		packetType, err := decodeHeader(r)
		if err != nil || packetType != packetTypeResponse {
			continue
		}
		response, err := decodeResponse(r)
		if err != nil || response.Index != c.index {
			continue
		}

		sample := Times{
			ClientSend:      sendTime,
			ClientReceive:   recvTime,
			ServerReceive:   response.ReceiveTime,
			ServerSend:      response.SendTime,
			ServerPrecision: response.Precision,
		}
		c.register.Add(sample)
		return sample, nil
	}
}

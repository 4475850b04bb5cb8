package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eggine/eggnet/internal/protocol"
	"github.com/eggine/eggnet/internal/stream"
)

var testVersion = protocol.Version{Branch: "main", Major: 0, Minor: 1, Revision: 0}

// waitFor ticks cond every 10ms until it reports true or the deadline
// expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestLoopbackSession runs a real client and server over loopback UDP:
// handshake, sequence adoption, data echo, and a graceful disconnect.
func TestLoopbackSession(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", testVersion)
	require.NoError(t, err)
	defer srv.Close()

	srv.OnData(func(addr *net.UDPAddr, data []byte) {
		require.NoError(t, srv.SendData(addr, data))
	})

	client := NewClient("127.0.0.1:0", testVersion)
	defer client.Close()

	var received [][]byte
	client.OnData(func(data []byte) {
		received = append(received, append([]byte(nil), data...))
	})

	require.NoError(t, client.InitializeConnection(srv.Addr().String()))

	waitFor(t, "handshake", func() bool {
		require.NoError(t, srv.Tick())
		require.NoError(t, client.Tick())
		return client.Connected()
	})

	// The server hands out the starting sequence pair during the handshake.
	require.Equal(t, clientStartSequence, client.sequence)
	require.Equal(t, serverStartSequence, client.lastSequenceReceived)
	require.Equal(t, 1, srv.ConnectionCount())

	client.SendData([]byte("marco"))
	waitFor(t, "echo", func() bool {
		require.NoError(t, srv.Tick())
		require.NoError(t, client.Tick())
		return len(received) > 0
	})
	require.Equal(t, []byte("marco"), received[0])

	// Graceful shutdown: the server removes the connection and notifies the
	// client, which surfaces the disconnect as a clean fatal error.
	client.Disconnect()
	require.NoError(t, client.Tick())

	waitFor(t, "server-side removal", func() bool {
		require.NoError(t, srv.Tick())
		return srv.ConnectionCount() == 0
	})

	waitFor(t, "disconnect notice", func() bool {
		err := client.Tick()
		if err == nil {
			return false
		}
		var e *Error
		require.True(t, errors.As(err, &e))
		require.Equal(t, KindDisconnected, e.Kind)
		require.Equal(t, protocol.DisconnectRequested, e.Reason)
		return true
	})
}

// TestServerSinglePacketPerTick verifies that everything queued to one
// connection leaves in a single datagram on the next tick.
func TestServerSinglePacketPerTick(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", testVersion)
	require.NoError(t, err)
	defer srv.Close()

	socket, err := net.DialUDP("udp", nil, srv.Addr())
	require.NoError(t, err)
	defer socket.Close()

	hs := protocol.Handshake{Checksum: protocol.APIChecksum(), Version: testVersion}
	w := stream.NewWriteStream()
	require.NoError(t, hs.Encode(w))
	_, err = socket.Write(w.Export())
	require.NoError(t, err)

	waitFor(t, "admission", func() bool {
		require.NoError(t, srv.Tick())
		return srv.ConnectionCount() == 1
	})

	buf := make([]byte, MaxPacketSize+1)
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := socket.Read(buf)
	require.NoError(t, err)

	var reply protocol.Handshake
	r := stream.NewReadStream()
	r.Import(buf[:n])
	require.NoError(t, reply.Decode(r))
	require.Equal(t, [2]uint32{clientStartSequence, serverStartSequence}, reply.Sequences)

	// Three queued sub-payloads must ride one packet.
	addr := socket.LocalAddr().(*net.UDPAddr)
	require.NoError(t, srv.SendData(addr, []byte("a")))
	require.NoError(t, srv.SendData(addr, []byte("b")))
	require.NoError(t, srv.Ping(addr))
	require.NoError(t, srv.Tick())

	require.NoError(t, socket.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = socket.Read(buf)
	require.NoError(t, err)

	var pkt protocol.Packet
	r.Import(buf[:n])
	require.NoError(t, pkt.Decode(r))
	require.Equal(t, serverStartSequence+1, pkt.Sequence)
	require.Len(t, pkt.SubPayloads(), 3)

	// Nothing queued, so the next tick sends nothing.
	require.NoError(t, srv.Tick())
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = socket.Read(buf)
	require.Error(t, err)
}

// TestServerBlacklistsBadHandshake verifies that a sender whose first
// datagram is garbage is rejected and subsequently ignored.
func TestServerBlacklistsBadHandshake(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", testVersion)
	require.NoError(t, err)
	defer srv.Close()

	socket, err := net.DialUDP("udp", nil, srv.Addr())
	require.NoError(t, err)
	defer socket.Close()

	_, err = socket.Write([]byte("definitely not a handshake"))
	require.NoError(t, err)

	waitFor(t, "blacklist", func() bool {
		require.NoError(t, srv.Tick())
		_, banned := srv.blacklist[socket.LocalAddr().(*net.UDPAddr).IP.String()]
		return banned
	})
	require.Equal(t, 0, srv.ConnectionCount())

	// A valid handshake from the same IP is now ignored too.
	hs := protocol.Handshake{Checksum: protocol.APIChecksum(), Version: testVersion}
	w := stream.NewWriteStream()
	require.NoError(t, hs.Encode(w))
	_, err = socket.Write(w.Export())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Tick())
	require.Equal(t, 0, srv.ConnectionCount())
}

// TestClientRejectsIncompatibleHandshake verifies that a handshake reply with
// a different protocol checksum is fatal to the client.
func TestClientRejectsIncompatibleHandshake(t *testing.T) {
	// A bare socket stands in for the server so the reply can be forged.
	fake, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer fake.Close()

	client := NewClient("127.0.0.1:0", testVersion)
	defer client.Close()
	require.NoError(t, client.InitializeConnection(fake.LocalAddr().String()))

	// Absorb the client's handshake, then reply with a corrupted checksum.
	buf := make([]byte, MaxPacketSize)
	require.NoError(t, fake.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, clientAddr, err := fake.ReadFromUDP(buf)
	require.NoError(t, err)

	reply := protocol.Handshake{
		Sequences: [2]uint32{clientStartSequence, serverStartSequence},
		Checksum:  protocol.APIChecksum(),
		Version:   testVersion,
	}
	reply.Checksum[0] ^= 0xFF
	w := stream.NewWriteStream()
	require.NoError(t, reply.Encode(w))
	_, err = fake.WriteToUDP(w.Export(), clientAddr)
	require.NoError(t, err)

	waitFor(t, "handshake rejection", func() bool {
		err := client.Tick()
		if err == nil {
			return false
		}
		var e *Error
		require.True(t, errors.As(err, &e))
		require.Equal(t, KindHandshake, e.Kind)
		return true
	})
	require.False(t, client.Connected())
}

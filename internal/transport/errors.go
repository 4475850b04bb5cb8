package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/eggine/eggnet/internal/ntp"
	"github.com/eggine/eggnet/internal/protocol"
)

// ErrorKind classifies session failures for the fatal/non-fatal policy. The
// tick loop absorbs and logs non-fatal errors; fatal ones propagate and end
// the session.
type ErrorKind int

const (
	// KindSocket: OS-level socket failure (create, bind, send, receive).
	// Fatal.
	KindSocket ErrorKind = iota
	// KindWouldBlock: nothing to read on the non-blocking socket. The
	// normal terminal condition of a receive drain, non-fatal.
	KindWouldBlock
	// KindPacketTooBig: oversized datagram discarded. Non-fatal.
	KindPacketTooBig
	// KindHandshake: the client got an invalid or incompatible handshake
	// reply; it is probably talking to a non-protocol endpoint. Fatal.
	KindHandshake
	// KindHandshakeRejected: the server refused one sender's handshake.
	// Non-fatal to the server process.
	KindHandshakeRejected
	// KindDisconnected: the peer ended the connection. Fatal to the
	// session, but a clean termination rather than a bug.
	KindDisconnected
	// KindDecode: a known sender's datagram failed to decode; the server
	// rejects that one datagram. Non-fatal.
	KindDecode
	// KindDesync: a mid-session decode failure on the client, meaning the
	// stream is no longer trustworthy. Fatal.
	KindDesync
	// KindBlacklisted: datagram from a blacklisted IP discarded. Non-fatal.
	KindBlacklisted
	// KindUnknownConnection: an operation referenced an address with no
	// admitted connection. Non-fatal.
	KindUnknownConnection
	// KindChannelClosed: the background receive goroutine exited. Fatal.
	KindChannelClosed
	// KindSync: wrapped clock-sync failure; fatality follows the wrapped
	// error's own classification.
	KindSync
)

func (k ErrorKind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindWouldBlock:
		return "would block"
	case KindPacketTooBig:
		return "packet too big"
	case KindHandshake:
		return "handshake"
	case KindHandshakeRejected:
		return "handshake rejected"
	case KindDisconnected:
		return "disconnected"
	case KindDecode:
		return "decode"
	case KindDesync:
		return "desync"
	case KindBlacklisted:
		return "blacklisted"
	case KindUnknownConnection:
		return "unknown connection"
	case KindChannelClosed:
		return "channel closed"
	case KindSync:
		return "clock sync"
	default:
		return "unknown"
	}
}

// Error is a classified session failure.
type Error struct {
	Kind ErrorKind
	// Addr is the peer involved, when known.
	Addr net.Addr
	// Reason is set for KindDisconnected.
	Reason protocol.DisconnectReason
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transport: %s", e.Kind)
	if e.Addr != nil {
		msg += fmt.Sprintf(" (%v)", e.Addr)
	}
	if e.Kind == KindDisconnected {
		msg += fmt.Sprintf(" (reason: %s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the session must be torn down.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindSocket, KindHandshake, KindDisconnected, KindDesync, KindChannelClosed:
		return true
	case KindSync:
		return ntp.IsFatal(e.Err)
	default:
		return false
	}
}

// IsFatal reports whether err carries a fatal session classification.
// Unclassified errors are treated as fatal.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return err != nil
}

func newError(kind ErrorKind, addr net.Addr, err error) *Error {
	return &Error{Kind: kind, Addr: addr, Err: err}
}

// isWouldBlock reports whether a socket error is the non-blocking "no data"
// signal (an expired immediate deadline).
func isWouldBlock(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

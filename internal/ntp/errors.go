package ntp

import (
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies clock-sync failures for the fatal/non-fatal policy.
type ErrorKind int

const (
	// KindCreate: socket creation or bind failed. Fatal.
	KindCreate ErrorKind = iota
	// KindSend: OS-level send failure. Fatal.
	KindSend
	// KindReceive: OS-level receive failure. Fatal.
	KindReceive
	// KindWouldBlock: nothing to read on the non-blocking socket. The
	// normal empty-queue signal, non-fatal.
	KindWouldBlock
	// KindTimeout: a blocking sync call got no answer in time. That round
	// is skipped, non-fatal.
	KindTimeout
	// KindPacketTooBig: oversized datagram discarded. Non-fatal.
	KindPacketTooBig
	// KindNotWhitelisted: datagram from an address the responder does not
	// serve. Silently dropped, non-fatal.
	KindNotWhitelisted
	// KindDecode: malformed clock-sync datagram discarded. Non-fatal.
	KindDecode
	// KindChannelClosed: the background receive goroutine exited. Fatal.
	KindChannelClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindWouldBlock:
		return "would block"
	case KindTimeout:
		return "timeout"
	case KindPacketTooBig:
		return "packet too big"
	case KindNotWhitelisted:
		return "not whitelisted"
	case KindDecode:
		return "decode"
	case KindChannelClosed:
		return "channel closed"
	default:
		return "unknown"
	}
}

// Error is a classified clock-sync failure.
type Error struct {
	Kind ErrorKind
	// Addr is the peer involved, when known.
	Addr net.Addr
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ntp: %s", e.Kind)
	if e.Addr != nil {
		msg += fmt.Sprintf(" (%v)", e.Addr)
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
	case KindCreate, KindSend, KindReceive, KindChannelClosed:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err carries a fatal clock-sync classification.
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

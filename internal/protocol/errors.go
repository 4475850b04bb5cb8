package protocol

import "errors"

// Decode errors. All of them wrap into the caller's error classification
// (fatal for a client mid-session, reject-one-datagram for a server).
var (
	// ErrInvalidMagicNumber is returned when a handshake buffer does not
	// start with the expected magic bytes.
	ErrInvalidMagicNumber = errors.New("protocol: invalid magic number")

	// ErrInvalidSubPayloadType is returned when a packet carries an unknown
	// or unsupported sub-payload discriminant.
	ErrInvalidSubPayloadType = errors.New("protocol: invalid sub-payload type")

	// ErrInvalidDisconnectReason is returned when a disconnect sub-payload
	// carries an unknown reason code, or when encoding the Invalid sentinel
	// is attempted.
	ErrInvalidDisconnectReason = errors.New("protocol: invalid disconnect reason")
)

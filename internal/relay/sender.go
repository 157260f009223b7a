package relay

import "errors"

var (
	// ErrUnauthenticated is returned when a connection that has not logged in
	// tries to send a message or a signaling envelope.
	ErrUnauthenticated = errors.New("relay: connection is not bound to an address")

	// ErrSenderMismatch is returned when a signaling envelope names a sender
	// other than the connection's bound address.
	ErrSenderMismatch = errors.New("relay: envelope sender does not match bound address")
)

// Sender delivers an encoded frame to a single connection. It reports false
// when the connection is gone or cannot accept more frames.
type Sender interface {
	Send(id ConnID, frame []byte) bool
}

// Broadcaster delivers an encoded frame to every open connection, bound or
// not, and returns how many accepted it.
type Broadcaster interface {
	Broadcast(frame []byte) int
}

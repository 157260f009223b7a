// Package server defines the internal event types passed from connection
// pumps and verification goroutines to the hub loop.
package server

import (
	"strings"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

// inboundEvent is one decoded frame from a client. Exactly one of event and
// err is set.
type inboundEvent struct {
	client *Client
	event  protocol.Inbound
	err    error
}

// pendingLogin is a login waiting for signature verification.
type pendingLogin struct {
	event   string
	request wallet.Request
	kind    relay.IdentityKind
}

// verifyResult carries a finished verification back to the hub loop.
type verifyResult struct {
	client *Client
	login  pendingLogin
	ok     bool
	err    error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

package protocol

import (
	"encoding/json"
	"time"
)

// Inbound event names (client to relay).
const (
	EventGuestLogin   = "guestLogin"
	EventWalletLogin  = "walletLogin"
	EventLogin        = "login"
	EventRegister     = "register"
	EventSendMessage  = "send-message"
	EventWebRTCOffer  = "webrtc-offer"
	EventWebRTCAnswer = "webrtc-answer"
	EventWebRTCICE    = "webrtc-ice"
)

// Outbound event names (relay to client). The webrtc-* names are shared with
// the inbound direction.
const (
	EventLoginSuccess   = "loginSuccess"
	EventLoginError     = "loginError"
	EventUserList       = "userList"
	EventReceiveMessage = "receive-message"
	EventError          = "error"
)

// EventAny names the rejected event in an error event when the relay never
// learned it: the frame was not decodable, or it was dropped by rate
// limiting before decoding.
const EventAny = "*"

// Frame is the envelope every event travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every event a client may send.
type Inbound interface {
	EventName() string
}

// Outbound is implemented by every event the relay may emit.
type Outbound interface {
	EventName() string
}

// GuestLogin binds the connection to an unverified guest identifier.
type GuestLogin struct {
	ID string `json:"id"`
}

// WalletLogin binds the connection after the signature over Message has been
// verified for Address. Message is optional; the relay's configured login
// message is assumed when it is empty.
type WalletLogin struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
}

// Login re-binds a connection to an address the client has already proven.
// A signature is optional and is verified when present.
type Login struct {
	Address   string `json:"address"`
	Type      string `json:"type,omitempty"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Register binds the connection as a generic wallet identity.
type Register struct {
	Address string `json:"address"`
}

// SendMessage asks the relay to deliver Text to every connection of To. The
// sender is implied by the connection's bound address.
type SendMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (GuestLogin) EventName() string  { return EventGuestLogin }
func (WalletLogin) EventName() string { return EventWalletLogin }
func (Login) EventName() string       { return EventLogin }
func (Register) EventName() string    { return EventRegister }
func (SendMessage) EventName() string { return EventSendMessage }

// LoginSuccess confirms a bind.
type LoginSuccess struct {
	Address     string    `json:"address"`
	Type        string    `json:"type"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// LoginError reports an authentication failure; the connection stays
// unauthenticated.
type LoginError struct {
	Reason string `json:"reason"`
}

// UserList is a full presence snapshot, never a diff.
type UserList struct {
	Addresses []string `json:"addresses"`
}

// ReceiveMessage is one routed chat message.
type ReceiveMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a rejected inbound event. Event is EventAny when the
// rejected frame's name is unknown.
type ErrorEvent struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

func (LoginSuccess) EventName() string   { return EventLoginSuccess }
func (LoginError) EventName() string     { return EventLoginError }
func (UserList) EventName() string       { return EventUserList }
func (ReceiveMessage) EventName() string { return EventReceiveMessage }
func (ErrorEvent) EventName() string     { return EventError }

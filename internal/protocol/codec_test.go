package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidEvents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "guest login",
			raw:  `{"event":"guestLogin","data":{"id":"guest-1"}}`,
			want: GuestLogin{ID: "guest-1"},
		},
		{
			name: "wallet login",
			raw:  `{"event":"walletLogin","data":{"address":"0xAbc","signature":"0x01","type":"EVM"}}`,
			want: WalletLogin{Address: "0xAbc", Signature: "0x01", Type: "EVM"},
		},
		{
			name: "wallet login with message",
			raw:  `{"event":"walletLogin","data":{"address":"5Grw","signature":"0x01","type":"SUBSTRATE","message":"Login to Relay 1"}}`,
			want: WalletLogin{Address: "5Grw", Signature: "0x01", Type: "SUBSTRATE", Message: "Login to Relay 1"},
		},
		{
			name: "login without type",
			raw:  `{"event":"login","data":{"address":"0xabc"}}`,
			want: Login{Address: "0xabc"},
		},
		{
			name: "register object",
			raw:  `{"event":"register","data":{"address":"0xabc"}}`,
			want: Register{Address: "0xabc"},
		},
		{
			name: "register bare string",
			raw:  `{"event":"register","data":"0xabc"}`,
			want: Register{Address: "0xabc"},
		},
		{
			name: "send message",
			raw:  `{"event":"send-message","data":{"to":"bob","text":"hello"}}`,
			want: SendMessage{To: "bob", Text: "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantEvent string
	}{
		{name: "not json", raw: `hello`, wantEvent: EventAny},
		{name: "missing event", raw: `{"data":{}}`, wantEvent: EventAny},
		{name: "unknown event", raw: `{"event":"nope","data":{}}`, wantEvent: "nope"},
		{name: "guest login without id", raw: `{"event":"guestLogin","data":{}}`, wantEvent: EventGuestLogin},
		{name: "guest login blank id", raw: `{"event":"guestLogin","data":{"id":"  "}}`, wantEvent: EventGuestLogin},
		{name: "guest login without payload", raw: `{"event":"guestLogin"}`, wantEvent: EventGuestLogin},
		{name: "wallet login without signature", raw: `{"event":"walletLogin","data":{"address":"0xabc","type":"EVM"}}`, wantEvent: EventWalletLogin},
		{name: "wallet login without type", raw: `{"event":"walletLogin","data":{"address":"0xabc","signature":"0x1"}}`, wantEvent: EventWalletLogin},
		{name: "login without address", raw: `{"event":"login","data":{"type":"EVM"}}`, wantEvent: EventLogin},
		{name: "register blank string", raw: `{"event":"register","data":""}`, wantEvent: EventRegister},
		{name: "send message without to", raw: `{"event":"send-message","data":{"text":"hi"}}`, wantEvent: EventSendMessage},
		{name: "send message without text", raw: `{"event":"send-message","data":{"to":"bob"}}`, wantEvent: EventSendMessage},
		{name: "send message wrong field type", raw: `{"event":"send-message","data":{"to":5,"text":"hi"}}`, wantEvent: EventSendMessage},
		{name: "offer without payload", raw: `{"event":"webrtc-offer","data":{"to":"bob"}}`, wantEvent: EventWebRTCOffer},
		{name: "offer with null payload", raw: `{"event":"webrtc-offer","data":{"to":"bob","offer":null}}`, wantEvent: EventWebRTCOffer},
		{name: "ice without to", raw: `{"event":"webrtc-ice","data":{"candidate":{}}}`, wantEvent: EventWebRTCICE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr), "expected *protocol.Error, got %T", err)
			assert.Equal(t, tt.wantEvent, perr.Event)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestDecodeSignalKeepsPayloadVerbatim(t *testing.T) {
	raw := `{"event":"webrtc-answer","data":{"from":"alice","to":"bob","answer":{"type":"answer","sdp":"v=0\r\n","x-extra":[1,2]}}}`

	got, err := Decode([]byte(raw))
	require.NoError(t, err)

	sig, ok := got.(Signal)
	require.True(t, ok)
	assert.Equal(t, SignalAnswer, sig.Kind)
	assert.Equal(t, "alice", sig.From)
	assert.Equal(t, "bob", sig.To)
	assert.JSONEq(t, `{"type":"answer","sdp":"v=0\r\n","x-extra":[1,2]}`, string(sig.Payload))
}

func TestSignalRoundTripUsesKindField(t *testing.T) {
	kinds := map[SignalKind]string{
		SignalOffer:        "offer",
		SignalAnswer:       "answer",
		SignalICECandidate: "candidate",
	}

	for kind, field := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			sig := Signal{Kind: kind, From: "alice", To: "bob", Payload: json.RawMessage(`{"k":"v"}`)}
			frame, err := Encode(sig)
			require.NoError(t, err)

			var f Frame
			require.NoError(t, json.Unmarshal(frame, &f))
			assert.Equal(t, kind.EventName(), f.Event)

			var data map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(f.Data, &data))
			assert.JSONEq(t, `{"k":"v"}`, string(data[field]))

			back, err := DecodeOutbound(frame)
			require.NoError(t, err)
			assert.Equal(t, sig.From, back.(Signal).From)
			assert.Equal(t, sig.To, back.(Signal).To)
		})
	}
}

func TestEncodeOutboundFrames(t *testing.T) {
	ts := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	frame, err := Encode(ReceiveMessage{ID: "m1", From: "alice", To: "bob", Text: "hello", Timestamp: ts})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"receive-message","data":{"id":"m1","from":"alice","to":"bob","text":"hello","timestamp":"2024-04-01T12:00:00Z"}}`,
		string(frame))

	frame, err = Encode(UserList{Addresses: []string{"alice"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"userList","data":{"addresses":["alice"]}}`, string(frame))

	frame, err = Encode(ErrorEvent{Event: EventSendMessage, Reason: "unauthenticated"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"event":"send-message","reason":"unauthenticated"}}`, string(frame))
}

func TestDecodeOutbound(t *testing.T) {
	frame, err := Encode(LoginSuccess{Address: "alice", Type: "GUEST"})
	require.NoError(t, err)

	out, err := DecodeOutbound(frame)
	require.NoError(t, err)
	assert.Equal(t, "alice", out.(LoginSuccess).Address)

	_, err = DecodeOutbound([]byte(`{"event":"mystery","data":{}}`))
	assert.Error(t, err)
}

func TestEncodeInboundDecodesBack(t *testing.T) {
	frame, err := EncodeInbound(SendMessage{To: "bob", Text: "hi"})
	require.NoError(t, err)

	in, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, SendMessage{To: "bob", Text: "hi"}, in)
}

func TestSplitBatch(t *testing.T) {
	a, err := Encode(LoginError{Reason: "a"})
	require.NoError(t, err)
	b, err := Encode(LoginError{Reason: "b"})
	require.NoError(t, err)

	msg := append(append(append([]byte{}, a...), '\n'), b...)
	frames, err := SplitBatch(msg)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.JSONEq(t, string(a), string(frames[0]))
	assert.JSONEq(t, string(b), string(frames[1]))

	_, err = SplitBatch([]byte(`{"event":`))
	assert.Error(t, err)
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Decode parses one inbound frame into its typed event. Every error it
// returns is a *Error.
func Decode(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &Error{Event: EventAny, Reason: "malformed frame"}
	}
	if f.Event == "" {
		return nil, &Error{Event: EventAny, Reason: "missing event name"}
	}

	if kind, ok := SignalKindForEvent(f.Event); ok {
		return decodeSignal(kind, f.Data)
	}

	switch f.Event {
	case EventGuestLogin:
		var ev GuestLogin
		if err := decodeObject(f, &ev); err != nil {
			return nil, err
		}
		if isBlank(ev.ID) {
			return nil, errorf(f.Event, "missing required field %q", "id")
		}
		return ev, nil

	case EventWalletLogin:
		var ev WalletLogin
		if err := decodeObject(f, &ev); err != nil {
			return nil, err
		}
		if isBlank(ev.Address) {
			return nil, errorf(f.Event, "missing required field %q", "address")
		}
		if isBlank(ev.Signature) {
			return nil, errorf(f.Event, "missing required field %q", "signature")
		}
		if isBlank(ev.Type) {
			return nil, errorf(f.Event, "missing required field %q", "type")
		}
		return ev, nil

	case EventLogin:
		var ev Login
		if err := decodeObject(f, &ev); err != nil {
			return nil, err
		}
		if isBlank(ev.Address) {
			return nil, errorf(f.Event, "missing required field %q", "address")
		}
		return ev, nil

	case EventRegister:
		return decodeRegister(f)

	case EventSendMessage:
		var ev SendMessage
		if err := decodeObject(f, &ev); err != nil {
			return nil, err
		}
		if isBlank(ev.To) {
			return nil, errorf(f.Event, "missing required field %q", "to")
		}
		if ev.Text == "" {
			return nil, errorf(f.Event, "missing required field %q", "text")
		}
		return ev, nil
	}

	return nil, errorf(f.Event, "unknown event")
}

// register historically carried a bare address string; both that and an
// {"address": ...} object are accepted.
func decodeRegister(f Frame) (Inbound, error) {
	var bare string
	if err := json.Unmarshal(f.Data, &bare); err == nil {
		if isBlank(bare) {
			return nil, errorf(f.Event, "missing required field %q", "address")
		}
		return Register{Address: bare}, nil
	}

	var ev Register
	if err := decodeObject(f, &ev); err != nil {
		return nil, err
	}
	if isBlank(ev.Address) {
		return nil, errorf(f.Event, "missing required field %q", "address")
	}
	return ev, nil
}

func decodeObject(f Frame, v any) error {
	if isNull(f.Data) {
		return errorf(f.Event, "missing payload")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errorf(f.Event, "payload must be an object with string fields")
	}
	return nil
}

// Encode marshals an outbound event into a frame.
func Encode(out Outbound) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.EventName(), err)
	}
	return json.Marshal(Frame{Event: out.EventName(), Data: data})
}

// EncodeInbound marshals a client event into a frame. Clients use it; the
// relay itself only decodes inbound events.
func EncodeInbound(in Inbound) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", in.EventName(), err)
	}
	return json.Marshal(Frame{Event: in.EventName(), Data: data})
}

// DecodeOutbound parses a frame emitted by the relay. It is the client-side
// counterpart of Encode.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if kind, ok := SignalKindForEvent(f.Event); ok {
		return decodeSignal(kind, f.Data)
	}

	var out Outbound
	switch f.Event {
	case EventLoginSuccess:
		var ev LoginSuccess
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		out = ev
	case EventLoginError:
		var ev LoginError
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		out = ev
	case EventUserList:
		var ev UserList
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		out = ev
	case EventReceiveMessage:
		var ev ReceiveMessage
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		out = ev
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		out = ev
	default:
		return nil, fmt.Errorf("decode frame: unknown event %q", f.Event)
	}
	return out, nil
}

// SplitBatch splits one WebSocket message into the frames it carries. The
// relay's write pump coalesces queued frames into a single message separated
// by newlines.
func SplitBatch(msg []byte) ([][]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	var frames [][]byte
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("split batch: %w", err)
		}
		frames = append(frames, raw)
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

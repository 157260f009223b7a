package protocol

import (
	"encoding/json"
	"fmt"
)

// SignalKind distinguishes the three WebRTC negotiation envelopes.
type SignalKind string

const (
	SignalOffer        SignalKind = "OFFER"
	SignalAnswer       SignalKind = "ANSWER"
	SignalICECandidate SignalKind = "ICE_CANDIDATE"
)

// EventName returns the wire event carrying this kind.
func (k SignalKind) EventName() string {
	switch k {
	case SignalOffer:
		return EventWebRTCOffer
	case SignalAnswer:
		return EventWebRTCAnswer
	case SignalICECandidate:
		return EventWebRTCICE
	}
	return ""
}

// payloadField is the JSON key holding the opaque payload for this kind.
func (k SignalKind) payloadField() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalICECandidate:
		return "candidate"
	}
	return ""
}

// SignalKindForEvent maps a wire event name back to its kind.
func SignalKindForEvent(event string) (SignalKind, bool) {
	switch event {
	case EventWebRTCOffer:
		return SignalOffer, true
	case EventWebRTCAnswer:
		return SignalAnswer, true
	case EventWebRTCICE:
		return SignalICECandidate, true
	}
	return "", false
}

// Signal is a WebRTC signaling envelope. Payload is never parsed by the
// relay; it is carried byte for byte from sender to recipient.
type Signal struct {
	Kind    SignalKind
	From    string
	To      string
	Payload json.RawMessage
}

func (s Signal) EventName() string { return s.Kind.EventName() }

// MarshalJSON writes the envelope in the same shape the client sent it, with
// the payload under "offer", "answer" or "candidate".
func (s Signal) MarshalJSON() ([]byte, error) {
	field := s.Kind.payloadField()
	if field == "" {
		return nil, fmt.Errorf("protocol: unknown signal kind %q", s.Kind)
	}
	payload := s.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(map[string]any{
		"from": s.From,
		"to":   s.To,
		field:  payload,
	})
}

type signalWire struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

func decodeSignal(kind SignalKind, data json.RawMessage) (Signal, error) {
	event := kind.EventName()
	var w signalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Signal{}, errorf(event, "payload must be an object")
	}

	var payload json.RawMessage
	switch kind {
	case SignalOffer:
		payload = w.Offer
	case SignalAnswer:
		payload = w.Answer
	case SignalICECandidate:
		payload = w.Candidate
	}

	if isBlank(w.To) {
		return Signal{}, errorf(event, "missing required field %q", "to")
	}
	if isNull(payload) {
		return Signal{}, errorf(event, "missing required field %q", kind.payloadField())
	}

	return Signal{
		Kind:    kind,
		From:    w.From,
		To:      w.To,
		Payload: append(json.RawMessage(nil), payload...),
	}, nil
}

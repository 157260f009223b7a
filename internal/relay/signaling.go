package relay

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/address"
	"github.com/Tyrowin/gorelay/internal/protocol"
)

// SignalRelay forwards WebRTC offer, answer and ICE envelopes between peers.
// Signaling is pairwise: envelopes go to the destination's connections only
// and are never echoed to the sender's other devices.
type SignalRelay struct {
	registry *Registry
	out      Sender
}

// NewSignalRelay creates a relay reading from reg and delivering through out.
func NewSignalRelay(reg *Registry, out Sender) *SignalRelay {
	return &SignalRelay{registry: reg, out: out}
}

// Forward delivers sig to every connection bound to sig.To other than the
// sending connection and returns how many accepted it. The payload is passed
// through untouched. An empty From is filled with the sender's bound address;
// a From naming someone else is rejected. An offline destination drops the
// envelope and returns 0 with no error.
func (s *SignalRelay) Forward(from ConnID, sig protocol.Signal) (int, error) {
	sender, ok := s.registry.Lookup(from)
	if !ok {
		return 0, ErrUnauthenticated
	}

	switch {
	case address.Normalize(sig.From) == "":
		sig.From = sender.Address
	case !address.Equal(sig.From, sender.Address):
		return 0, ErrSenderMismatch
	}

	targets := s.registry.ConnectionsFor(sig.To)
	if len(targets) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Forward",
			"kind":     sig.Kind,
			"from":     sender.Address,
			"to":       address.Normalize(sig.To),
		}).Debug("Signaling destination offline; envelope dropped")
		return 0, nil
	}

	frame, err := protocol.Encode(sig)
	if err != nil {
		return 0, fmt.Errorf("forward %s: %w", sig.Kind, err)
	}

	delivered := 0
	for _, id := range targets {
		if id == from {
			continue
		}
		if s.out.Send(id, frame) {
			delivered++
		}
	}
	return delivered, nil
}

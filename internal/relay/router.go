package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/address"
	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Outcome describes what happened to one routed message. It exists for logs
// and metrics; senders are never told whether delivery succeeded.
type Outcome struct {
	MessageID        string
	Delivered        int
	RecipientOffline bool
}

// Router fans chat messages out to the recipient's connections and echoes
// them to the sender's other connections.
type Router struct {
	registry *Registry
	out      Sender
	now      func() time.Time
	newID    func() string
}

// NewRouter creates a router reading from reg and delivering through out.
func NewRouter(reg *Registry, out Sender) *Router {
	return &Router{
		registry: reg,
		out:      out,
		now:      time.Now,
		newID:    newMessageID,
	}
}

// newMessageID returns a time-ordered UUID so IDs sort in send order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Route delivers text from the connection from to every connection bound to
// to, plus every other connection bound to the sender's own address. Each
// connection receives the message at most once and the sending connection
// never receives it. An offline recipient is not an error: the message is
// dropped and the outcome says so.
func (r *Router) Route(from ConnID, to, text string) (Outcome, error) {
	sender, ok := r.registry.Lookup(from)
	if !ok {
		return Outcome{}, ErrUnauthenticated
	}

	toKey := address.Normalize(to)
	recipients := r.registry.ConnectionsFor(toKey)
	if len(recipients) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Route",
			"from":     sender.Address,
			"to":       toKey,
		}).Debug("Recipient offline; message dropped")
		return Outcome{RecipientOffline: true}, nil
	}

	msg := protocol.ReceiveMessage{
		ID:        r.newID(),
		From:      sender.Address,
		To:        toKey,
		Text:      text,
		Timestamp: r.now().UTC(),
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return Outcome{}, fmt.Errorf("route message: %w", err)
	}

	targets := fanOutTargets(from, recipients, r.registry.ConnectionsFor(sender.Address))

	outcome := Outcome{MessageID: msg.ID}
	for _, id := range targets {
		if r.out.Send(id, frame) {
			outcome.Delivered++
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Route",
		"message_id": msg.ID,
		"from":       sender.Address,
		"to":         toKey,
		"delivered":  outcome.Delivered,
	}).Debug("Message routed")

	return outcome, nil
}

// fanOutTargets merges the recipient set with the sender's own connections,
// dropping duplicates and the originating connection. Recipients come first.
func fanOutTargets(origin ConnID, recipients, senderConns []ConnID) []ConnID {
	seen := make(map[ConnID]struct{}, len(recipients)+len(senderConns))
	seen[origin] = struct{}{}

	targets := make([]ConnID, 0, len(recipients)+len(senderConns))
	for _, set := range [][]ConnID{recipients, senderConns} {
		for _, id := range set {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, id)
		}
	}
	return targets
}

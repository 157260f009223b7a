package relay

import (
	"fmt"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// Publisher pushes the full presence list to every connection whenever
// membership changes. Consumers always receive a replacement list, never a
// diff.
type Publisher struct {
	registry *Registry
	out      Broadcaster
}

// NewPublisher creates a publisher reading from reg and broadcasting through
// out.
func NewPublisher(reg *Registry, out Broadcaster) *Publisher {
	return &Publisher{registry: reg, out: out}
}

// Snapshot returns the current distinct-address list.
func (p *Publisher) Snapshot() []string {
	return p.registry.DistinctAddresses()
}

// Publish broadcasts a userList frame and returns how many connections
// accepted it.
func (p *Publisher) Publish() (int, error) {
	addrs := p.Snapshot()
	if addrs == nil {
		addrs = []string{}
	}
	frame, err := protocol.Encode(protocol.UserList{Addresses: addrs})
	if err != nil {
		return 0, fmt.Errorf("publish presence: %w", err)
	}
	return p.out.Broadcast(frame), nil
}

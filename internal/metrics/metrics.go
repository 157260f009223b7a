// Package metrics keeps in-process event counters for the relay and exposes
// them in the Prometheus text format.
package metrics

import "sync"

// Event names counted by the relay.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	LoginSucceeded      = "login_succeeded"
	LoginFailed         = "login_failed"
	MessagesRouted      = "messages_routed"
	MessagesDelivered   = "messages_delivered"
	MessagesOffline     = "messages_recipient_offline"
	SignalsRelayed      = "signals_relayed"
	SignalsDropped      = "signals_dropped"
	PresenceBroadcasts  = "presence_broadcasts"
	ProtocolErrors      = "protocol_errors"
	Unauthenticated     = "unauthenticated_operations"
	RateLimited         = "rate_limited"
	SendBufferFull      = "send_buffer_full"
	EventsDeferred      = "events_deferred"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Package server coordinates client registration, event dispatch, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/relay"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

// Hub owns every client connection and the address registry. Its Run loop
// is the only goroutine that mutates the registry; pumps and verification
// goroutines talk to it over channels.
type Hub struct {
	clients    map[*Client]bool
	byID       map[relay.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	results    chan verifyResult
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg       Config
	registry  *relay.Registry
	router    *relay.Router
	signals   *relay.SignalRelay
	presence  *relay.Publisher
	verifier  wallet.Verifier
	challenge wallet.Challenge
	metrics   *metrics.Metrics
}

// NewHub creates a hub with its own registry. The router, signaling relay
// and presence publisher all deliver through the hub. A nil verifier rejects
// every signed login; a nil metrics disables counting.
func NewHub(cfg Config, verifier wallet.Verifier, m *metrics.Metrics) *Hub {
	cfg = cfg.sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[relay.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 64),
		results:    make(chan verifyResult),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		cfg:        cfg,
		registry:   relay.NewRegistry(),
		verifier:   verifier,
		challenge: wallet.Challenge{
			Prefix:  cfg.LoginMessage,
			MaxSkew: cfg.LoginMaxSkew,
		},
		metrics: m,
	}
	h.router = relay.NewRouter(h.registry, h)
	h.signals = relay.NewSignalRelay(h.registry, h)
	h.presence = relay.NewPublisher(h.registry, h)
	return h
}

// Registry exposes the hub's address registry for read-only use.
func (h *Hub) Registry() *relay.Registry {
	return h.registry
}

// Presence returns the current distinct-address snapshot.
func (h *Hub) Presence() []string {
	return h.presence.Snapshot()
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new client to the hub. It returns false once the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) post(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Send implements relay.Sender.
func (h *Hub) Send(id relay.ConnID, frame []byte) bool {
	h.mutex.RLock()
	c, ok := h.byID[id]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(c, frame)
}

// Broadcast implements relay.Broadcaster. Every open connection receives the
// frame, authenticated or not.
func (h *Hub) Broadcast(frame []byte) int {
	clients := h.getClientSnapshot()

	var clientsToRemove []*Client
	delivered := 0
	for _, client := range clients {
		if h.safeSend(client, frame) {
			delivered++
			continue
		}
		clientsToRemove = append(clientsToRemove, client)
	}
	h.removeFailedClients(clientsToRemove)
	return delivered
}

// deliver queues frame for c and drops c when its queue is full.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	if h.safeSend(c, frame) {
		return true
	}
	h.removeFailedClients([]*Client{c})
	return false
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "safeSend",
				"conn_id":  client.id,
			}).Errorf("Recovered from panic: %v", r)
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed
	// underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop. It should be called in its own
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.handleInbound(ev)

		case res := <-h.results:
			h.handleVerifyResult(res)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		logrus.WithField("function", "handleRegister").Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	h.byID[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.Inc(metrics.ConnectionsAccepted)
	logrus.WithFields(logrus.Fields{
		"conn_id":     client.id,
		"remote_addr": client.addr,
		"clients":     clientCount,
	}).Info("Client registered")

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// handleUnregister removes the client and its binding. A binding is removed
// at most once, so presence is republished at most once per connection.
func (h *Hub) handleUnregister(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closed = true
	}
	if h.byID[client.id] == client {
		delete(h.byID, client.id)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok {
		close(client.send)
		h.metrics.Inc(metrics.ConnectionsClosed)
		logrus.WithFields(logrus.Fields{
			"conn_id":     client.id,
			"remote_addr": client.addr,
			"clients":     clientCount,
			"lifetime":    time.Since(client.connectedAt).Round(time.Millisecond),
		}).Info("Client unregistered")
	}

	client.deferred = nil
	if b, removed := h.registry.Unbind(client.id); removed {
		logrus.WithFields(logrus.Fields{
			"conn_id": client.id,
			"address": b.Address,
		}).Debug("Binding removed")
		h.publishPresence()
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients drops clients whose send buffer is full and closes
// their channels. The write pump then closes the transport, and the read
// pump's unregister removes the binding.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.metrics.Inc(metrics.SendBufferFull)
			logrus.WithFields(logrus.Fields{
				"conn_id":     client.id,
				"remote_addr": client.addr,
			}).Warn("Client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every send queue, which lets each write pump send a
// close frame, then closes the transports.
func (h *Hub) shutdownClients() {
	logrus.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		client.closed = true
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
	}

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				logrus.WithFields(logrus.Fields{
					"conn_id":     client.id,
					"remote_addr": client.addr,
				}).WithError(err).Warn("Error closing client connection")
			}
		}
	}

	logrus.WithField("clients", len(clients)).Info("Closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logrus.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		logrus.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

const defaultCallLabel = "chat"

// ErrUnexpectedSignal is returned when a signal does not fit the call's
// negotiation state.
var ErrUnexpectedSignal = errors.New("client: unexpected signal for call")

// CallConfig configures the peer connection behind a Call.
type CallConfig struct {
	// ICEServers are STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string
	// Loopback includes 127.0.0.1 candidates, which lets two peers on the
	// same machine connect without any network interface.
	Loopback bool
	// Label names the data channel. Defaults to "chat".
	Label string
}

// Call is a WebRTC data channel to one peer, negotiated through the relay's
// offer, answer and ICE events. Feed every signal from the peer to
// HandleSignal.
type Call struct {
	client *Client
	peer   string
	pc     *webrtc.PeerConnection

	mu         sync.Mutex
	remoteSet  bool
	remoteICE  []webrtc.ICECandidateInit
	localReady bool
	localICE   []webrtc.ICECandidateInit
	dc         *webrtc.DataChannel
	opened     chan struct{}
	openedOnce sync.Once
	onMessage  func(string)
	closeOnce  sync.Once
	closeErr   error
}

func newPeerConnection(cfg CallConfig) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{}
	if cfg.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
}

func (c *Client) newCall(peer string, cfg CallConfig) (*Call, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	call := &Call{
		client: c,
		peer:   peer,
		pc:     pc,
		opened: make(chan struct{}),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		call.sendCandidate(cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"peer":  peer,
			"state": state.String(),
		}).Debug("Peer connection state changed")
	})
	return call, nil
}

// StartCall creates a data channel and sends an offer to peer.
func (c *Client) StartCall(peer string, cfg CallConfig) (*Call, error) {
	call, err := c.newCall(peer, cfg)
	if err != nil {
		return nil, err
	}

	label := cfg.Label
	if label == "" {
		label = defaultCallLabel
	}
	dc, err := call.pc.CreateDataChannel(label, nil)
	if err != nil {
		_ = call.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	call.attach(dc)

	offer, err := call.pc.CreateOffer(nil)
	if err != nil {
		_ = call.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := call.pc.SetLocalDescription(offer); err != nil {
		_ = call.Close()
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	if err := c.Signal(protocol.SignalOffer, peer, offer); err != nil {
		_ = call.Close()
		return nil, err
	}
	call.flushLocalCandidates()
	return call, nil
}

// AcceptCall answers an offer received from the relay.
func (c *Client) AcceptCall(offer protocol.Signal, cfg CallConfig) (*Call, error) {
	if offer.Kind != protocol.SignalOffer {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedSignal, offer.Kind)
	}

	var sd webrtc.SessionDescription
	if err := json.Unmarshal(offer.Payload, &sd); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}

	call, err := c.newCall(offer.From, cfg)
	if err != nil {
		return nil, err
	}
	call.pc.OnDataChannel(call.attach)

	if err := call.setRemote(sd); err != nil {
		_ = call.Close()
		return nil, err
	}

	answer, err := call.pc.CreateAnswer(nil)
	if err != nil {
		_ = call.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := call.pc.SetLocalDescription(answer); err != nil {
		_ = call.Close()
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	if err := c.Signal(protocol.SignalAnswer, offer.From, answer); err != nil {
		_ = call.Close()
		return nil, err
	}
	call.flushLocalCandidates()
	return call, nil
}

// Peer returns the address on the other end.
func (call *Call) Peer() string {
	return call.peer
}

// HandleSignal applies an answer or ICE candidate from the peer. Candidates
// that arrive before the remote description are held until it is set.
func (call *Call) HandleSignal(sig protocol.Signal) error {
	switch sig.Kind {
	case protocol.SignalAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &sd); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		return call.setRemote(sd)

	case protocol.SignalICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Payload, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		call.mu.Lock()
		if !call.remoteSet {
			call.remoteICE = append(call.remoteICE, cand)
			call.mu.Unlock()
			return nil
		}
		call.mu.Unlock()
		return call.pc.AddICECandidate(cand)
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedSignal, sig.Kind)
}

func (call *Call) setRemote(sd webrtc.SessionDescription) error {
	if err := call.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", sd.Type, err)
	}

	call.mu.Lock()
	call.remoteSet = true
	pending := call.remoteICE
	call.remoteICE = nil
	call.mu.Unlock()

	for _, cand := range pending {
		if err := call.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	return nil
}

// sendCandidate forwards a local candidate, or queues it until our
// description has been sent so the peer never sees a candidate first.
func (call *Call) sendCandidate(cand webrtc.ICECandidateInit) {
	call.mu.Lock()
	if !call.localReady {
		call.localICE = append(call.localICE, cand)
		call.mu.Unlock()
		return
	}
	call.mu.Unlock()

	if err := call.client.Signal(protocol.SignalICECandidate, call.peer, cand); err != nil {
		logrus.WithField("peer", call.peer).WithError(err).Warn("Failed to send ICE candidate")
	}
}

func (call *Call) flushLocalCandidates() {
	call.mu.Lock()
	call.localReady = true
	pending := call.localICE
	call.localICE = nil
	call.mu.Unlock()

	for _, cand := range pending {
		if err := call.client.Signal(protocol.SignalICECandidate, call.peer, cand); err != nil {
			logrus.WithField("peer", call.peer).WithError(err).Warn("Failed to send ICE candidate")
		}
	}
}

func (call *Call) attach(dc *webrtc.DataChannel) {
	call.mu.Lock()
	call.dc = dc
	call.mu.Unlock()

	dc.OnOpen(func() {
		call.openedOnce.Do(func() { close(call.opened) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		call.mu.Lock()
		fn := call.onMessage
		call.mu.Unlock()
		if fn != nil {
			fn(string(msg.Data))
		}
	})
}

// OnMessage registers the handler for text arriving on the data channel.
func (call *Call) OnMessage(fn func(text string)) {
	call.mu.Lock()
	call.onMessage = fn
	call.mu.Unlock()
}

// WaitOpen blocks until the data channel is open.
func (call *Call) WaitOpen(ctx context.Context) error {
	select {
	case <-call.opened:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for data channel: %w", ctx.Err())
	}
}

// Send writes text on the open data channel.
func (call *Call) Send(text string) error {
	call.mu.Lock()
	dc := call.dc
	call.mu.Unlock()

	select {
	case <-call.opened:
	default:
		return errors.New("client: data channel not open")
	}
	return dc.SendText(text)
}

// Close tears down the peer connection.
func (call *Call) Close() error {
	call.closeOnce.Do(func() {
		call.closeErr = call.pc.Close()
	})
	return call.closeErr
}

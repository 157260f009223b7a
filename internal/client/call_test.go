package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

// pumpSignals hands every signaling event on c to the call returned by
// callFor, which may create the call on the first offer.
func pumpSignals(t *testing.T, c *Client, callFor func(protocol.Signal) *Call) {
	t.Helper()
	go func() {
		for out := range c.Events() {
			sig, ok := out.(protocol.Signal)
			if !ok {
				continue
			}
			call := callFor(sig)
			if call == nil || sig.Kind == protocol.SignalOffer {
				continue
			}
			if err := call.HandleSignal(sig); err != nil {
				t.Errorf("handle %s: %v", sig.Kind, err)
			}
		}
	}()
}

func TestCallOpensDataChannelThroughRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC negotiation in short mode")
	}

	url := startRelay(t)
	alice := dial(t, url)
	bob := dial(t, url)

	require.NoError(t, alice.GuestLogin("alice"))
	waitFor(t, alice, protocol.EventLoginSuccess)
	require.NoError(t, bob.GuestLogin("bob"))
	waitFor(t, bob, protocol.EventLoginSuccess)

	cfg := CallConfig{Loopback: true}

	bobCall := make(chan *Call, 1)
	var accepted *Call
	pumpSignals(t, bob, func(sig protocol.Signal) *Call {
		if sig.Kind == protocol.SignalOffer {
			call, err := bob.AcceptCall(sig, cfg)
			if err != nil {
				t.Errorf("accept: %v", err)
				return nil
			}
			accepted = call
			bobCall <- call
		}
		return accepted
	})

	call, err := alice.StartCall("bob", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = call.Close() })
	pumpSignals(t, alice, func(protocol.Signal) *Call { return call })

	var answered *Call
	select {
	case answered = <-bobCall:
	case <-time.After(10 * time.Second):
		t.Fatal("bob never received the offer")
	}
	t.Cleanup(func() { _ = answered.Close() })
	require.Equal(t, "alice", answered.Peer())

	received := make(chan string, 1)
	answered.OnMessage(func(text string) { received <- text })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, call.WaitOpen(ctx))
	require.NoError(t, answered.WaitOpen(ctx))

	require.NoError(t, call.Send("ping over p2p"))
	select {
	case text := <-received:
		require.Equal(t, "ping over p2p", text)
	case <-ctx.Done():
		t.Fatal("data channel message never arrived")
	}
}

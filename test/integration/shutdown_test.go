package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// TestGracefulShutdown verifies that a hub with no clients stops promptly.
func TestGracefulShutdown(t *testing.T) {
	srv := server.New(*server.NewConfig(), nil)
	srv.Start()

	time.Sleep(50 * time.Millisecond)

	if err := srv.Hub().Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that active client connections
// are closed during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	const numClients = 5
	peers := make([]*testhelpers.Peer, numClients)
	for i := range peers {
		peers[i] = testhelpers.Connect(t, relay)
		peers[i].GuestLogin(t, testhelpers.GuestName("shutdown", i))
	}

	performGracefulShutdown(t, relay.Server)
	verifyClientsDisconnected(t, peers)
}

// TestShutdownWithActiveMessages keeps messages flowing while the hub stops.
func TestShutdownWithActiveMessages(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)

	sender := testhelpers.Connect(t, relay)
	receiver := testhelpers.Connect(t, relay)
	sender.GuestLogin(t, "sender")
	receiver.GuestLogin(t, "receiver")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := sender.Emit(protocol.SendMessage{To: "receiver", Text: "busy"}); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	performGracefulShutdown(t, relay.Server)
	close(stop)
	wg.Wait()

	verifyClientsDisconnected(t, []*testhelpers.Peer{receiver})
}

// TestConcurrentShutdown calls Shutdown from several goroutines at once.
func TestConcurrentShutdown(t *testing.T) {
	srv := server.New(*server.NewConfig(), nil)
	srv.Start()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- srv.Shutdown()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent shutdown failed: %v", err)
		}
	}
}

// TestEventsAfterShutdownAreIgnored checks that a connection racing the
// shutdown does not hang the server.
func TestEventsAfterShutdownAreIgnored(t *testing.T) {
	relay := testhelpers.StartRelay(t, nil)
	peer := testhelpers.Connect(t, relay)
	peer.GuestLogin(t, "late")

	performGracefulShutdown(t, relay.Server)

	_ = peer.Emit(protocol.SendMessage{To: "late", Text: "anyone?"})
	verifyClientsDisconnected(t, []*testhelpers.Peer{peer})
}

// performGracefulShutdown initiates and waits for graceful shutdown to complete
func performGracefulShutdown(t *testing.T, srv *server.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Shutdown()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Shutdown timeout exceeded")
	}
}

// verifyClientsDisconnected drains each peer until its connection fails.
func verifyClientsDisconnected(t *testing.T, peers []*testhelpers.Peer) {
	t.Helper()
	for i, p := range peers {
		for {
			_, err := p.Next(time.Second)
			if err == nil {
				continue
			}
			if testhelpers.IsTimeout(err) {
				t.Errorf("Client %d still connected after shutdown", i)
			}
			break
		}
	}
}

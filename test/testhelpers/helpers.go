// Package testhelpers provides common utilities and helper functions for testing the relay.
//
// It starts real relay servers on httptest listeners and wraps raw WebSocket
// connections with helpers that speak the relay's event protocol, so that
// integration tests can drive the server exactly as a browser would.
package testhelpers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

// TestOrigin is the Origin header every helper connection presents.
const TestOrigin = "http://localhost:8080"

// DefaultTimeout bounds how long Expect waits for an event.
const DefaultTimeout = 2 * time.Second

// Relay is a running relay behind an httptest listener.
type Relay struct {
	Server *server.Server
	HTTP   *httptest.Server
	WSURL  string
}

// StartRelay starts a relay with the default configuration, optionally
// adjusted by customize, and registers cleanup on t.
func StartRelay(t *testing.T, customize func(cfg *server.Config)) *Relay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	if customize != nil {
		customize(cfg)
	}

	srv := server.New(*cfg, wallet.NewDefault())
	srv.Start()
	ts := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(func() {
		ts.Close()
		if err := srv.Shutdown(); err != nil {
			t.Logf("relay shutdown: %v", err)
		}
	})

	return &Relay{
		Server: srv,
		HTTP:   ts,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket dials url presenting origin. An empty origin sends no
// Origin header at all.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Peer is a raw protocol connection to a relay. Frames arriving in one
// batched WebSocket message are queued and handed out one at a time.
type Peer struct {
	Conn    *websocket.Conn
	pending []protocol.Outbound
}

// Connect dials the relay with TestOrigin and closes the connection when
// the test ends.
func Connect(t *testing.T, r *Relay) *Peer {
	t.Helper()
	conn, err := ConnectWebSocket(r.WSURL, TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	p := &Peer{Conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

// Emit sends one client event.
func (p *Peer) Emit(in protocol.Inbound) error {
	frame, err := protocol.EncodeInbound(in)
	if err != nil {
		return err
	}
	return p.Conn.WriteMessage(websocket.TextMessage, frame)
}

// MustEmit is Emit that fails the test on error.
func (p *Peer) MustEmit(t *testing.T, in protocol.Inbound) {
	t.Helper()
	if err := p.Emit(in); err != nil {
		t.Fatalf("Failed to emit %s: %v", in.EventName(), err)
	}
}

// Next returns the next relay event, waiting at most timeout.
func (p *Peer) Next(timeout time.Duration) (protocol.Outbound, error) {
	if len(p.pending) == 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		_, msg, err := p.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		frames, err := protocol.SplitBatch(msg)
		if err != nil {
			return nil, err
		}
		for _, frame := range frames {
			out, err := protocol.DecodeOutbound(frame)
			if err != nil {
				return nil, err
			}
			p.pending = append(p.pending, out)
		}
		if len(p.pending) == 0 {
			return nil, errors.New("empty message")
		}
	}

	out := p.pending[0]
	p.pending = p.pending[1:]
	return out, nil
}

// Expect skips events until one named event arrives and returns it.
func (p *Peer) Expect(t *testing.T, event string) protocol.Outbound {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	var seen []string
	for time.Now().Before(deadline) {
		out, err := p.Next(time.Until(deadline))
		if err != nil {
			t.Fatalf("Waiting for %s (saw %v): %v", event, seen, err)
		}
		if out.EventName() == event {
			return out
		}
		seen = append(seen, out.EventName())
	}
	t.Fatalf("Timed out waiting for %s (saw %v)", event, seen)
	return nil
}

// ExpectUserList waits for a userList event equal to want.
func (p *Peer) ExpectUserList(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	var last []string
	for time.Now().Before(deadline) {
		list := p.Expect(t, protocol.EventUserList).(protocol.UserList)
		if equalStrings(list.Addresses, want) {
			return
		}
		last = list.Addresses
	}
	t.Fatalf("Expected userList %v, last saw %v", want, last)
}

// ExpectNone fails the test if any event named event arrives within d.
// Other events are consumed and ignored.
func (p *Peer) ExpectNone(t *testing.T, event string, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		out, err := p.Next(time.Until(deadline))
		if err != nil {
			if IsTimeout(err) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %s: %v", event, err)
		}
		if out.EventName() == event {
			t.Fatalf("Expected no %s event, got %+v", event, out)
		}
	}
}

// GuestLogin logs p in as a guest and returns the bound address.
func (p *Peer) GuestLogin(t *testing.T, id string) string {
	t.Helper()
	p.MustEmit(t, protocol.GuestLogin{ID: id})
	success := p.Expect(t, protocol.EventLoginSuccess).(protocol.LoginSuccess)
	return success.Address
}

// Close sends a normal close frame and closes the connection.
func (p *Peer) Close() error {
	return CloseWebSocket(p.Conn)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// GuestName returns a distinct guest id for index i.
func GuestName(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

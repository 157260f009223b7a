// Package client speaks the relay's WebSocket protocol from Go. It is used
// by the relay CLI and by tests that drive a real server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/protocol"
)

const writeWait = 10 * time.Second

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client: connection closed")

// Client is one relay connection. Events emitted by the relay are delivered,
// in order, on the channel returned by Events.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	events    chan protocol.Outbound
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to the relay's WebSocket endpoint at url. header may carry
// an Origin the relay accepts.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan protocol.Outbound, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel relay events arrive on. It is closed when the
// connection ends.
func (c *Client) Events() <-chan protocol.Outbound {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		frames, err := protocol.SplitBatch(msg)
		if err != nil {
			logrus.WithField("function", "readLoop").WithError(err).Warn("Malformed batch from relay")
		}
		for _, frame := range frames {
			out, err := protocol.DecodeOutbound(frame)
			if err != nil {
				logrus.WithField("function", "readLoop").WithError(err).Debug("Skipping unknown frame")
				continue
			}
			select {
			case c.events <- out:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.shutdown(nil)
	return nil
}

// Emit sends one event to the relay.
func (c *Client) Emit(in protocol.Inbound) error {
	frame, err := protocol.EncodeInbound(in)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("emit %s: %w", in.EventName(), err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", in.EventName(), err)
	}
	return nil
}

// GuestLogin binds the connection to an unverified guest id.
func (c *Client) GuestLogin(id string) error {
	return c.Emit(protocol.GuestLogin{ID: id})
}

// WalletLogin binds the connection after the relay verifies signature over
// message. An empty message means the relay's bare login prefix.
func (c *Client) WalletLogin(address, signature, walletType, message string) error {
	return c.Emit(protocol.WalletLogin{
		Address:   address,
		Signature: signature,
		Type:      walletType,
		Message:   message,
	})
}

// Login re-binds the connection to an address without a signature.
func (c *Client) Login(address, walletType string) error {
	return c.Emit(protocol.Login{Address: address, Type: walletType})
}

// Register binds the connection as a generic wallet identity.
func (c *Client) Register(address string) error {
	return c.Emit(protocol.Register{Address: address})
}

// SendMessage asks the relay to deliver text to every connection of to.
func (c *Client) SendMessage(to, text string) error {
	return c.Emit(protocol.SendMessage{To: to, Text: text})
}

// Signal forwards a WebRTC signaling payload to to. payload is marshalled
// to JSON; the relay passes it through untouched.
func (c *Client) Signal(kind protocol.SignalKind, to string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signal %s: %w", kind, err)
	}
	return c.Emit(protocol.Signal{Kind: kind, To: to, Payload: raw})
}

// WaitFor consumes events until one named event arrives. Events skipped on
// the way are dropped, so WaitFor must not race with another Events reader.
func (c *Client) WaitFor(ctx context.Context, event string) (protocol.Outbound, error) {
	for {
		select {
		case out, ok := <-c.events:
			if !ok {
				if err := c.Err(); err != nil {
					return nil, err
				}
				return nil, ErrClosed
			}
			if out.EventName() == event {
				return out, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", event, ctx.Err())
		}
	}
}

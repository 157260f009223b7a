package integration

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/wallet"
	"github.com/Tyrowin/gorelay/test/testhelpers"
)

// TestOriginValidation covers the origin allow-list applied at upgrade time.
func TestOriginValidation(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://localhost:8080", "https://Chat.Example.com"}
	})

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{name: "allowed origin", origin: "http://localhost:8080", allowed: true},
		{name: "case-insensitive host", origin: "https://chat.example.COM", allowed: true},
		{name: "scheme mismatch", origin: "https://localhost:8080", allowed: false},
		{name: "unknown origin", origin: "http://evil.example", allowed: false},
		{name: "missing origin", origin: "", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := testhelpers.ConnectWebSocket(relay.WSURL, tt.origin)
			if tt.allowed {
				if err != nil {
					t.Fatalf("Expected origin %q to be allowed: %v", tt.origin, err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatalf("Expected origin %q to be rejected", tt.origin)
			}
			if err != websocket.ErrBadHandshake {
				t.Errorf("Expected bad handshake, got %v", err)
			}
		})
	}
}

// TestWildcardOrigin checks that "*" admits any origin.
func TestWildcardOrigin(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn, err := testhelpers.ConnectWebSocket(relay.WSURL, "http://anywhere.example")
	if err != nil {
		t.Fatalf("Expected wildcard to allow any origin: %v", err)
	}
	_ = conn.Close()
}

// TestMessageSizeLimit checks that oversized frames close the sender's
// connection and release its binding.
func TestMessageSizeLimit(t *testing.T) {
	const limit = 256
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = limit
	})

	watcher := testhelpers.Connect(t, relay)
	watcher.GuestLogin(t, "watcher")

	sender := testhelpers.Connect(t, relay)
	sender.GuestLogin(t, "big")
	watcher.ExpectUserList(t, "watcher", "big")

	sender.MustEmit(t, protocol.SendMessage{To: "watcher", Text: strings.Repeat("a", limit/2)})
	watcher.Expect(t, protocol.EventReceiveMessage)

	if err := sender.Emit(protocol.SendMessage{To: "watcher", Text: strings.Repeat("X", limit*4)}); err != nil {
		t.Logf("Send error (expected): %v", err)
	}

	for {
		_, err := sender.Next(testhelpers.DefaultTimeout)
		if err == nil {
			continue
		}
		if testhelpers.IsTimeout(err) {
			t.Fatal("Expected the relay to close an oversized connection")
		}
		break
	}

	watcher.ExpectUserList(t, "watcher")
}

// TestWalletLoginOverWebSocket signs the login challenge with a real key.
func TestWalletLoginOverWebSocket(t *testing.T) {
	relay := testhelpers.StartRelay(t, func(cfg *server.Config) {
		cfg.LoginMaxSkew = time.Minute
	})

	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	addr := wallet.EVMAddress(key.PubKey())
	sign := func(msg string) string {
		return "0x" + hex.EncodeToString(wallet.SignPersonal(key, []byte(msg)))
	}

	t.Run("fresh challenge", func(t *testing.T) {
		p := testhelpers.Connect(t, relay)
		msg := wallet.FormatChallenge(wallet.DefaultLoginMessage, time.Now())
		p.MustEmit(t, protocol.WalletLogin{Address: addr, Signature: sign(msg), Type: "EVM", Message: msg})

		success := p.Expect(t, protocol.EventLoginSuccess).(protocol.LoginSuccess)
		if success.Address != addr || success.Type != "EVM" {
			t.Errorf("Unexpected login success %+v", success)
		}
	})

	t.Run("stale challenge", func(t *testing.T) {
		p := testhelpers.Connect(t, relay)
		msg := wallet.FormatChallenge(wallet.DefaultLoginMessage, time.Now().Add(-time.Hour))
		p.MustEmit(t, protocol.WalletLogin{Address: addr, Signature: sign(msg), Type: "EVM", Message: msg})

		failure := p.Expect(t, protocol.EventLoginError).(protocol.LoginError)
		if failure.Reason != "login message expired" {
			t.Errorf("Unexpected failure reason %q", failure.Reason)
		}
	})

	t.Run("signature for another address", func(t *testing.T) {
		other, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		p := testhelpers.Connect(t, relay)
		msg := wallet.FormatChallenge(wallet.DefaultLoginMessage, time.Now())
		p.MustEmit(t, protocol.WalletLogin{Address: wallet.EVMAddress(other.PubKey()), Signature: sign(msg), Type: "EVM", Message: msg})

		failure := p.Expect(t, protocol.EventLoginError).(protocol.LoginError)
		if failure.Reason != "invalid signature" {
			t.Errorf("Unexpected failure reason %q", failure.Reason)
		}
	})

	t.Run("unsupported wallet type", func(t *testing.T) {
		p := testhelpers.Connect(t, relay)
		p.MustEmit(t, protocol.WalletLogin{Address: addr, Signature: "0x01", Type: "BTC"})

		failure := p.Expect(t, protocol.EventLoginError).(protocol.LoginError)
		if failure.Reason != "unsupported wallet type" {
			t.Errorf("Unexpected failure reason %q", failure.Reason)
		}
	})
}

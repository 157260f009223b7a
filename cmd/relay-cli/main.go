package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/client"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

type session struct {
	c   *client.Client
	rl  *readline.Instance
	cfg client.CallConfig

	loginMessage string

	mu    sync.Mutex
	self  string
	to    string
	users []string
	call  *client.Call
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Relay WebSocket URL")
	origin := flag.String("origin", "http://localhost:8080", "Origin header sent on connect")
	stun := flag.String("stun", "", "STUN server URL for calls, e.g. stun:stun.l.google.com:19302")
	loginMessage := flag.String("login-message", wallet.DefaultLoginMessage, "Login challenge prefix the relay expects")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logrus.SetLevel(logrus.WarnLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	header := http.Header{}
	header.Set("Origin", *origin)
	c, err := client.Dial(ctx, *url, header)
	cancel()
	if err != nil {
		color.Red("Connect failed: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	s := &session{c: c, loginMessage: *loginMessage}
	if *stun != "" {
		s.cfg.ICEServers = []string{*stun}
	}

	s.rl, err = readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     os.TempDir() + "/relay_cli_history",
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		color.Red("readline init: %v", err)
		os.Exit(1)
	}
	defer s.rl.Close()
	logrus.SetOutput(s.rl.Stderr())

	color.Green("Connected to %s", *url)
	s.printHelp()

	go s.readEvents()

	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return
		}
		if !s.handleLine(strings.TrimSpace(line)) {
			return
		}
		s.rl.SetPrompt(s.prompt())
	}
}

func (s *session) out() io.Writer {
	return s.rl.Stdout()
}

func (s *session) prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	self := s.self
	if self == "" {
		self = "anonymous"
	}
	if s.to == "" {
		return color.GreenString("%s> ", self)
	}
	return color.GreenString("%s@%s> ", self, s.to)
}

func (s *session) completer() *readline.PrefixCompleter {
	users := readline.PcItemDynamic(func(string) []string {
		s.mu.Lock()
		defer s.mu.Unlock()
		return append([]string(nil), s.users...)
	})
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/guest"),
		readline.PcItem("/wallet"),
		readline.PcItem("/login"),
		readline.PcItem("/register"),
		readline.PcItem("/list"),
		readline.PcItem("/to", users),
		readline.PcItem("/call", users),
		readline.PcItem("/p2p"),
		readline.PcItem("/hangup"),
		readline.PcItem("/exit"),
	)
}

func (s *session) printHelp() {
	w := s.out()
	color.New(color.FgMagenta).Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /guest <id>            - Log in as a guest")
	fmt.Fprintln(w, "  /wallet <hex-key>      - Log in with an EVM private key (signs the login challenge)")
	fmt.Fprintln(w, "  /login <addr> [type]   - Re-bind to an address without a signature")
	fmt.Fprintln(w, "  /register <addr>       - Bind as a generic wallet identity")
	fmt.Fprintln(w, "  /list                  - Show online addresses")
	fmt.Fprintln(w, "  /to <addr>             - Select the recipient for plain lines")
	fmt.Fprintln(w, "  @<addr> <text>         - Send one message to addr")
	fmt.Fprintln(w, "  /call <addr>           - Open a WebRTC data channel to addr")
	fmt.Fprintln(w, "  /p2p <text>            - Send text over the open data channel")
	fmt.Fprintln(w, "  /hangup                - Close the data channel")
	fmt.Fprintln(w, "  /exit                  - Quit")
}

// handleLine runs one input line and reports whether to keep reading.
func (s *session) handleLine(line string) bool {
	if line == "" {
		return true
	}

	parts := strings.Fields(line)
	var err error

	switch parts[0] {
	case "/help":
		s.printHelp()
	case "/exit":
		color.Red("Bye!")
		s.hangup()
		return false
	case "/guest":
		if len(parts) != 2 {
			color.Red("Usage: /guest <id>")
			break
		}
		err = s.c.GuestLogin(parts[1])
	case "/wallet":
		if len(parts) != 2 {
			color.Red("Usage: /wallet <hex-private-key>")
			break
		}
		err = s.walletLogin(parts[1])
	case "/login":
		if len(parts) < 2 || len(parts) > 3 {
			color.Red("Usage: /login <addr> [EVM|SUBSTRATE|GUEST]")
			break
		}
		walletType := ""
		if len(parts) == 3 {
			walletType = parts[2]
		}
		err = s.c.Login(parts[1], walletType)
	case "/register":
		if len(parts) != 2 {
			color.Red("Usage: /register <addr>")
			break
		}
		err = s.c.Register(parts[1])
	case "/list":
		s.printUsers()
	case "/to":
		if len(parts) != 2 {
			color.Red("Usage: /to <addr>")
			break
		}
		s.mu.Lock()
		s.to = parts[1]
		s.mu.Unlock()
		color.Green("Recipient: %s", parts[1])
	case "/call":
		if len(parts) != 2 {
			color.Red("Usage: /call <addr>")
			break
		}
		err = s.startCall(parts[1])
	case "/p2p":
		err = s.sendP2P(strings.TrimSpace(strings.TrimPrefix(line, "/p2p")))
	case "/hangup":
		s.hangup()
	default:
		err = s.sendChat(parts, line)
	}

	if err != nil {
		color.Red("Error: %v", err)
	}
	return true
}

func (s *session) walletLogin(hexKey string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil || len(raw) != 32 {
		return errors.New("private key must be 32 bytes of hex")
	}
	key, _ := btcec.PrivKeyFromBytes(raw)

	message := wallet.FormatChallenge(s.loginMessage, time.Now())
	sig := wallet.SignPersonal(key, []byte(message))
	addr := wallet.EVMAddress(key.PubKey())
	color.Cyan("Signing in as %s", addr)
	return s.c.WalletLogin(addr, "0x"+hex.EncodeToString(sig), string(wallet.SchemeEVM), message)
}

func (s *session) sendChat(parts []string, line string) error {
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 {
			return errors.New("usage: @<addr> <text>")
		}
		to := strings.TrimPrefix(parts[0], "@")
		return s.c.SendMessage(to, strings.TrimSpace(strings.TrimPrefix(line, parts[0])))
	}
	if strings.HasPrefix(parts[0], "/") {
		return fmt.Errorf("unknown command %s, try /help", parts[0])
	}

	s.mu.Lock()
	to := s.to
	s.mu.Unlock()
	if to == "" {
		return errors.New("no recipient; use /to <addr> or @<addr> <text>")
	}
	return s.c.SendMessage(to, line)
}

func (s *session) printUsers() {
	s.mu.Lock()
	users := append([]string(nil), s.users...)
	s.mu.Unlock()

	w := s.out()
	color.New(color.FgCyan).Fprintln(w, "Online:")
	if len(users) == 0 {
		fmt.Fprintln(w, "  (nobody)")
	}
	for _, u := range users {
		fmt.Fprintln(w, "  -", u)
	}
}

func (s *session) startCall(peer string) error {
	s.mu.Lock()
	busy := s.call != nil
	s.mu.Unlock()
	if busy {
		return errors.New("already in a call; /hangup first")
	}

	call, err := s.c.StartCall(peer, s.cfg)
	if err != nil {
		return err
	}
	s.adoptCall(call)
	color.Yellow("Calling %s...", peer)
	return nil
}

func (s *session) adoptCall(call *client.Call) {
	s.mu.Lock()
	s.call = call
	s.mu.Unlock()

	peer := call.Peer()
	call.OnMessage(func(text string) {
		fmt.Fprintf(s.out(), "%s %s\n", color.MagentaString("[p2p %s]>", peer), text)
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := call.WaitOpen(ctx); err != nil {
			color.New(color.FgRed).Fprintf(s.out(), "Call to %s failed: %v\n", peer, err)
			return
		}
		color.New(color.FgGreen).Fprintf(s.out(), ">> P2P channel open with %s\n", peer)
	}()
}

func (s *session) sendP2P(text string) error {
	s.mu.Lock()
	call := s.call
	s.mu.Unlock()
	if call == nil {
		return errors.New("no call; use /call <addr>")
	}
	if text == "" {
		return errors.New("usage: /p2p <text>")
	}
	return call.Send(text)
}

func (s *session) hangup() {
	s.mu.Lock()
	call := s.call
	s.call = nil
	s.mu.Unlock()
	if call != nil {
		_ = call.Close()
		color.Yellow("Call with %s closed", call.Peer())
	}
}

func (s *session) readEvents() {
	for out := range s.c.Events() {
		s.handleEvent(out)
		s.rl.SetPrompt(s.prompt())
		s.rl.Refresh()
	}
	if err := s.c.Err(); err != nil {
		color.New(color.FgRed).Fprintf(s.out(), "Connection closed: %v\n", err)
	} else {
		color.New(color.FgRed).Fprintln(s.out(), "Connection closed")
	}
	s.rl.Close()
}

func (s *session) handleEvent(out protocol.Outbound) {
	w := s.out()

	switch ev := out.(type) {
	case protocol.LoginSuccess:
		s.mu.Lock()
		s.self = ev.Address
		s.mu.Unlock()
		color.New(color.FgGreen).Fprintf(w, "Logged in as %s (%s)\n", ev.Address, ev.Type)

	case protocol.LoginError:
		color.New(color.FgRed).Fprintf(w, "Login failed: %s\n", ev.Reason)

	case protocol.UserList:
		s.mu.Lock()
		s.users = append([]string(nil), ev.Addresses...)
		s.mu.Unlock()
		color.New(color.FgCyan).Fprintf(w, "Online: %s\n", strings.Join(ev.Addresses, ", "))

	case protocol.ReceiveMessage:
		s.mu.Lock()
		self := s.self
		s.mu.Unlock()
		label := ev.From
		if ev.From == self {
			// Echo from another device of ours.
			label = "you -> " + ev.To
		}
		fmt.Fprintf(w, "%s %s %s\n",
			color.HiBlackString(ev.Timestamp.Local().Format("15:04:05")),
			color.CyanString("[%s]>", label),
			ev.Text)

	case protocol.Signal:
		s.handleSignal(ev)

	case protocol.ErrorEvent:
		color.New(color.FgRed).Fprintf(w, "Error (%s): %s\n", ev.Event, ev.Reason)
	}
}

func (s *session) handleSignal(sig protocol.Signal) {
	w := s.out()

	if sig.Kind == protocol.SignalOffer {
		s.mu.Lock()
		busy := s.call != nil
		s.mu.Unlock()
		if busy {
			color.New(color.FgYellow).Fprintf(w, "Ignoring call from %s while busy\n", sig.From)
			return
		}
		call, err := s.c.AcceptCall(sig, s.cfg)
		if err != nil {
			color.New(color.FgRed).Fprintf(w, "Accepting call from %s failed: %v\n", sig.From, err)
			return
		}
		color.New(color.FgYellow).Fprintf(w, "Incoming call from %s\n", sig.From)
		s.adoptCall(call)
		return
	}

	s.mu.Lock()
	call := s.call
	s.mu.Unlock()
	if call == nil || call.Peer() != sig.From {
		logrus.WithFields(logrus.Fields{
			"kind": sig.Kind,
			"from": sig.From,
		}).Debug("Signal for no active call")
		return
	}
	if err := call.HandleSignal(sig); err != nil {
		color.New(color.FgRed).Fprintf(w, "Call signaling error: %v\n", err)
	}
}

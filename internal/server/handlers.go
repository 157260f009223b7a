// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, presence snapshots, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, and hands the new
// client to the hub, which starts its pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("remote_addr", r.RemoteAddr).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(client) {
		logrus.WithField("remote_addr", r.RemoteAddr).Warn("Hub stopped; closing new connection")
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay server is running!")
}

type presenceResponse struct {
	Addresses   []string `json:"addresses"`
	Connections int      `json:"connections"`
}

// PresenceHandler returns the current distinct-address list as JSON, in the
// same order userList events carry it.
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	addrs := s.hub.Presence()
	if addrs == nil {
		addrs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(presenceResponse{
		Addresses:   addrs,
		Connections: s.hub.Registry().Len(),
	}); err != nil {
		logrus.WithError(err).Warn("Error writing presence response")
	}
}

// TestPageHandler serves an HTML page for exercising the relay from a
// browser: guest login, presence, and direct messages.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		logrus.WithError(err).Warn("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Relay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #users { margin: 10px 0; color: #555; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Relay WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="guestInput" placeholder="Guest id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div id="users">Online: (none)</div>
    <div>
        <input type="text" id="toInput" placeholder="Recipient address" disabled>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const usersDiv = document.getElementById('users');
        const guestInput = document.getElementById('guestInput');
        const toInput = document.getElementById('toInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected, label) {
            statusDiv.textContent = label;
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            toInput.disabled = !connected;
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }

        function handleFrame(frame) {
            switch (frame.event) {
            case 'loginSuccess':
                updateStatus(true, 'Logged in as ' + frame.data.address);
                break;
            case 'loginError':
                addMessage('Login failed: ' + frame.data.reason, 'red');
                break;
            case 'userList':
                usersDiv.textContent = 'Online: ' + (frame.data.addresses.join(', ') || '(none)');
                break;
            case 'receive-message':
                addMessage(frame.data.from + ' -> ' + frame.data.to + ': ' + frame.data.text, 'green');
                break;
            case 'error':
                addMessage('Error (' + frame.data.event + '): ' + frame.data.reason, 'red');
                break;
            default:
                addMessage(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addMessage('Connected to relay');
                const id = guestInput.value.trim() || ('guest-' + Math.random().toString(36).slice(2, 8));
                emit('guestLogin', { id: id });
            };

            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(line) {
                    if (line.trim() !== '') {
                        handleFrame(JSON.parse(line));
                    }
                });
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false, 'Disconnected');
                usersDiv.textContent = 'Online: (none)';
                ws = null;
            };

            ws.onerror = function() {
                addMessage('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const to = toInput.value.trim();
            const text = messageInput.value;
            if (to && text && ws && ws.readyState === WebSocket.OPEN) {
                emit('send-message', { to: to, text: text });
                addMessage('You -> ' + to + ': ' + text, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`

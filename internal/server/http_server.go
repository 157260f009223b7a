// Package server constructs and starts the relay's HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/metrics"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

// Server bundles the hub with the HTTP handlers that feed it.
type Server struct {
	cfg      Config
	hub      *Hub
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates a Server for cfg. Call Start before serving requests.
func New(cfg Config, verifier wallet.Verifier) *Server {
	cfg = cfg.sanitize()
	m := metrics.New()
	origins := newOriginPolicy(cfg.AllowedOrigins)

	return &Server{
		cfg:     cfg,
		hub:     NewHub(cfg, verifier, m),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the server's hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the server's event counters.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start runs the hub loop in its own goroutine. It must be called before
// the HTTP server accepts WebSocket connections.
func (s *Server) Start() {
	go s.hub.Run()
	logrus.Info("Hub started and ready to manage WebSocket connections")
}

// Shutdown stops the hub and waits up to the configured timeout for client
// goroutines to finish.
func (s *Server) Shutdown() error {
	return s.hub.Shutdown(s.cfg.ShutdownTimeout)
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns an error if the server fails to start.
func StartServer(server *http.Server) error {
	logrus.WithField("addr", server.Addr).Info("Server listening")
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	logrus.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown error")
		return err
	}

	logrus.Info("HTTP server shutdown completed")
	return nil
}

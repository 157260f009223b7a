package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/gorelay/internal/server"
	"github.com/Tyrowin/gorelay/internal/wallet"
)

func main() {
	// Environment first, flags override.
	cfg := server.NewConfigFromEnv()

	flag.StringVar(&cfg.Port, "addr", cfg.Port, "Listen address (SERVER_PORT)")
	flag.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "Maximum inbound frame size in bytes (MAX_MESSAGE_SIZE)")
	flag.IntVar(&cfg.RateLimit.Burst, "rate-burst", cfg.RateLimit.Burst, "Frames allowed per refill interval (RATE_LIMIT_BURST)")
	flag.DurationVar(&cfg.RateLimit.RefillInterval, "rate-interval", cfg.RateLimit.RefillInterval, "Rate limit refill interval (RATE_LIMIT_REFILL_INTERVAL)")
	flag.DurationVar(&cfg.VerifyTimeout, "verify-timeout", cfg.VerifyTimeout, "Wallet signature verification timeout (VERIFY_TIMEOUT)")
	flag.StringVar(&cfg.LoginMessage, "login-message", cfg.LoginMessage, "Login challenge prefix wallets sign (LOGIN_MESSAGE)")
	flag.DurationVar(&cfg.LoginMaxSkew, "login-max-skew", cfg.LoginMaxSkew, "Require a challenge timestamp within this skew; 0 disables (LOGIN_MAX_SKEW)")
	flag.BoolVar(&cfg.RequireSignedRelogin, "require-signed-relogin", cfg.RequireSignedRelogin, "Reject unsigned login and register events (REQUIRE_SIGNED_RELOGIN)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json (LOG_FORMAT)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout (SHUTDOWN_TIMEOUT)")
	flag.Parse()

	if err := server.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.WithError(err).Fatal("Invalid logging configuration")
	}

	logrus.WithFields(logrus.Fields{
		"addr":            cfg.Port,
		"allowed_origins": cfg.AllowedOrigins,
		"login_message":   cfg.LoginMessage,
	}).Info("Starting relay server...")

	srv := server.New(*cfg, wallet.NewDefault())
	srv.Start()

	httpServer := server.CreateServer(srv.Config().Port, srv.SetupRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("HTTP server failed")
			_ = srv.Shutdown()
			os.Exit(1)
		}
	case <-ctx.Done():
		logrus.Info("Shutdown signal received")
	}

	timeout := srv.Config().ShutdownTimeout
	if err := server.ShutdownServer(httpServer, timeout); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := srv.Shutdown(); err != nil {
		logrus.WithError(err).Warn("Hub did not shut down cleanly")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A .env file only fills variables that are not already set.
	dotenvErr := godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "err", dotenvErr)
	}

	logger.Info("starting aero-webrtc-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"max_clients", cfg.MaxClients,
		"room_idle_timeout", cfg.RoomIdleTimeout,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)

	hub := relay.NewHub(relay.Options{MaxClients: cfg.MaxClients}, logger)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, hub)
	sig := signaling.NewServer(signaling.Config{
		Hub:                  hub,
		Logger:               logger,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		MaxBytesPerSecond:    cfg.MaxSignalingBytesPerSecond,
		SendQueueSize:        cfg.SignalingSendQueueSize,
		MaxClients:           cfg.MaxClients,
	})
	sig.RegisterRoutes(srv.Mux())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go hub.RunJanitor(janitorCtx, cfg.RoomIdleTimeout, 0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopJanitor()
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopJanitor()
	// Hijacked WebSocket connections are not covered by Shutdown.
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info for
	// `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

package main

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any page may open a signaling socket)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxClients <= 0 {
		logger.Warn("startup security warning: MAX_CLIENTS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_clients_unlimited_in_prod",
			"max_clients", cfg.MaxClients,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.RoomIdleTimeout <= 0 {
		logger.Warn("startup security warning: ROOM_IDLE_TIMEOUT is 0 while --mode=prod (half-full rooms are never evicted)",
			"warning_code", "room_idle_timeout_disabled_in_prod",
			"room_idle_timeout", cfg.RoomIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_max_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSignalingBytesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_SIGNALING_BYTES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "signaling_bytes_per_second_unlimited_in_prod",
			"max_signaling_bytes_per_second", cfg.MaxSignalingBytesPerSecond,
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalingWSIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is very large (stale sockets hold room slots longer)",
			"warning_code", "signaling_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.PublicBaseURL)), "http://") {
		logger.Warn("startup security warning: PUBLIC_BASE_URL uses http:// while --mode=prod (SDP and ICE candidates travel in cleartext)",
			"warning_code", "public_base_url_insecure",
			"public_base_url_host", safeURLHost(cfg.PublicBaseURL),
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
)

const (
	envVarConfigFile      = "AERO_WEBRTC_SIGNAL_RELAY_CONFIG"
	envVarListenAddr      = "AERO_WEBRTC_SIGNAL_RELAY_LISTEN_ADDR"
	envVarPublicBaseURL   = "AERO_WEBRTC_SIGNAL_RELAY_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_WEBRTC_SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_SIGNAL_RELAY_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_SIGNAL_RELAY_MODE"

	// Plain host/port, as accepted by the browser demo's Node server. Only
	// consulted when the listen address is not configured explicitly.
	envVarPort = "PORT"
	envVarHost = "HOST"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarMaxSignalingBytesPerSecond    = "MAX_SIGNALING_BYTES_PER_SECOND"
	envVarSignalingSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"

	// Ephemeral TURN credentials (coturn "use-auth-secret").
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// Pairing limits.
	envVarMaxClients      = "MAX_CLIENTS"
	envVarRoomIdleTimeout = "ROOM_IDLE_TIMEOUT"

	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	defaultLegacyHost = "localhost"
	defaultLegacyPort = "8080"

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueSize        = 256

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// ConfigFile is the TOML file the values were layered on, if any.
	ConfigFile string

	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	ICEServers []webrtc.ICEServer

	// TURNREST, when SharedSecret is set, replaces static TURN credentials
	// with short-lived ones minted per /webrtc/ice request.
	TURNREST TURNRESTConfig

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// MaxSignalingBytesPerSecond caps inbound bytes per connection. 0 disables.
	MaxSignalingBytesPerSecond int
	SignalingSendQueueSize     int

	// MaxClients caps concurrently connected clients. 0 = unlimited.
	MaxClients int
	// RoomIdleTimeout evicts rooms that wait this long for a second occupant.
	// 0 disables eviction.
	RoomIdleTimeout time.Duration
}

type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool { return c.SharedSecret != "" }

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(envLookup func(string) (string, bool), args []string) (Config, error) {
	configPath := envOrDefault(envLookup, envVarConfigFile, "")
	if p, ok := configPathFromArgs(args); ok {
		configPath = p
	}

	lookup := envLookup
	if strings.TrimSpace(configPath) != "" {
		fileValues, err := loadFile(configPath)
		if err != nil {
			return Config{}, err
		}
		lookup = layeredLookup(envLookup, fileValues)
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, legacyListenAddr(lookup))
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTPrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	roomIdleTimeout, err := envDurationOrDefault(lookup, envVarRoomIdleTimeout, 0)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxSignalingBytesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingBytesPerSecond, 0)
	if err != nil {
		return Config{}, err
	}
	signalingSendQueueSize, err := envIntOrDefault(lookup, envVarSignalingSendQueueSize, DefaultSignalingSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	maxClients, err := envIntOrDefault(lookup, envVarMaxClients, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-signal-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&configPath, "config", configPath, "Path to a TOML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSecret, "turn-rest-shared-secret", turnRESTSecret, "coturn static-auth-secret for ephemeral TURN credentials ("+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "Lifetime of ephemeral TURN credentials ("+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTPrefix, "turn-rest-username-prefix", turnRESTPrefix, "Username prefix for ephemeral TURN credentials ("+envVarTURNRESTUsernamePrefix+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&maxSignalingBytesPerSecond, "max-signaling-bytes-per-second", maxSignalingBytesPerSecond, "Max inbound signaling WS bytes per second per connection (0 = unlimited; env "+envVarMaxSignalingBytesPerSecond+")")
	fs.IntVar(&signalingSendQueueSize, "send-queue-size", signalingSendQueueSize, "Outbound frames buffered per connection before it is dropped as too slow (env "+envVarSignalingSendQueueSize+")")
	fs.IntVar(&maxClients, "max-clients", maxClients, "Maximum concurrent signaling clients (0 = unlimited; env "+envVarMaxClients+")")
	fs.DurationVar(&roomIdleTimeout, "room-idle-timeout", roomIdleTimeout, "Evict rooms waiting this long for a second peer (0 = never; env "+envVarRoomIdleTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("invalid %s %q (expected absolute URL)", envVarPublicBaseURL, publicBaseURL)
		}
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval (%s) must be < %s/--signaling-ws-idle-timeout (%s)",
			envVarSignalingWSPingInterval, signalingWSPingInterval,
			envVarSignalingWSIdleTimeout, signalingWSIdleTimeout,
		)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if maxSignalingBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-bytes-per-second must be >= 0 (0 = unlimited)", envVarMaxSignalingBytesPerSecond)
	}
	if signalingSendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-size must be > 0", envVarSignalingSendQueueSize)
	}
	if maxClients < 0 {
		return Config{}, fmt.Errorf("%s/--max-clients must be >= 0 (0 = unlimited)", envVarMaxClients)
	}
	if roomIdleTimeout < 0 {
		return Config{}, fmt.Errorf("%s/--room-idle-timeout must be >= 0 (0 = disabled)", envVarRoomIdleTimeout)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnRESTSecret != "")
	if err != nil {
		return Config{}, err
	}

	if turnRESTSecret != "" {
		if turnRESTTTL < time.Second {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be >= 1s", envVarTURNRESTTTL)
		}
		if turnRESTPrefix == "" || strings.Contains(turnRESTPrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	return Config{
		ConfigFile:                    configPath,
		ListenAddr:                    listenAddr,
		PublicBaseURL:                 publicBaseURL,
		AllowedOrigins:                allowedOrigins,
		Mode:                          mode,
		LogFormat:                     logFormat,
		LogLevel:                      level,
		ShutdownTimeout:               shutdownTimeout,
		ICEServers:                    iceServers,
		TURNREST: TURNRESTConfig{
			SharedSecret:   turnRESTSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTPrefix,
		},
		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		MaxSignalingBytesPerSecond:    maxSignalingBytesPerSecond,
		SignalingSendQueueSize:        signalingSendQueueSize,
		MaxClients:                    maxClients,
		RoomIdleTimeout:               roomIdleTimeout,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

// legacyListenAddr derives host:port from HOST/PORT. When neither is set it
// returns DefaultListenAddr.
func legacyListenAddr(lookup func(string) (string, bool)) string {
	host, hostOK := lookup(envVarHost)
	port, portOK := lookup(envVarPort)
	hostSet := hostOK && strings.TrimSpace(host) != ""
	portSet := portOK && strings.TrimSpace(port) != ""
	if !hostSet && !portSet {
		return DefaultListenAddr
	}
	if !hostSet {
		host = defaultLegacyHost
	}
	if !portSet {
		port = defaultLegacyPort
	}
	return net.JoinHostPort(strings.TrimSpace(host), strings.TrimSpace(port))
}

// configPathFromArgs finds -config/--config ahead of flag parsing, since the
// file supplies defaults for every other flag.
func configPathFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg || len(arg)-len(name) > 2 {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	return out, nil
}

package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML layout accepted by -config. Every key maps onto the
// environment variable of the same option; the environment and flags still
// take precedence.
//
//	listen_addr = "0.0.0.0:8080"
//	mode = "prod"
//	allowed_origins = ["https://app.example.com"]
//
//	[signaling]
//	ws_idle_timeout = "60s"
//	max_clients = 1000
//	room_idle_timeout = "10m"
//
//	[ice]
//	stun_urls = ["stun:stun.example.com:3478"]
//	turn_urls = ["turn:turn.example.com:3478?transport=udp"]
//
//	[ice.turn_rest]
//	shared_secret = "..."
//	ttl = "1h"
type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	PublicBaseURL   string   `toml:"public_base_url"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	Mode            string   `toml:"mode"`
	LogFormat       string   `toml:"log_format"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`

	Signaling struct {
		WSIdleTimeout        string `toml:"ws_idle_timeout"`
		WSPingInterval       string `toml:"ws_ping_interval"`
		MaxMessageBytes      int64  `toml:"max_message_bytes"`
		MaxMessagesPerSecond int    `toml:"max_messages_per_second"`
		MaxBytesPerSecond    int    `toml:"max_bytes_per_second"`
		SendQueueSize        int    `toml:"send_queue_size"`
		MaxClients           int    `toml:"max_clients"`
		RoomIdleTimeout      string `toml:"room_idle_timeout"`
	} `toml:"signaling"`

	ICE struct {
		ServersJSON    string   `toml:"servers_json"`
		STUNURLs       []string `toml:"stun_urls"`
		TURNURLs       []string `toml:"turn_urls"`
		TURNUsername   string   `toml:"turn_username"`
		TURNCredential string   `toml:"turn_credential"`

		TURNREST struct {
			SharedSecret   string `toml:"shared_secret"`
			TTL            string `toml:"ttl"`
			UsernamePrefix string `toml:"username_prefix"`
		} `toml:"turn_rest"`
	} `toml:"ice"`
}

// loadFile decodes path and returns its values keyed by environment variable
// name. Unknown keys are rejected so typos do not silently fall back to
// defaults.
func loadFile(path string) (map[string]string, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	out := make(map[string]string)
	add := func(env, value string, key ...string) {
		if md.IsDefined(key...) {
			out[env] = value
		}
	}

	add(envVarListenAddr, fc.ListenAddr, "listen_addr")
	add(envVarPublicBaseURL, fc.PublicBaseURL, "public_base_url")
	add(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","), "allowed_origins")
	add(envVarMode, fc.Mode, "mode")
	add(envVarLogFormat, fc.LogFormat, "log_format")
	add(envVarLogLevel, fc.LogLevel, "log_level")
	add(envVarShutdownTimeout, fc.ShutdownTimeout, "shutdown_timeout")

	sig := fc.Signaling
	add(envVarSignalingWSIdleTimeout, sig.WSIdleTimeout, "signaling", "ws_idle_timeout")
	add(envVarSignalingWSPingInterval, sig.WSPingInterval, "signaling", "ws_ping_interval")
	add(envVarMaxSignalingMessageBytes, strconv.FormatInt(sig.MaxMessageBytes, 10), "signaling", "max_message_bytes")
	add(envVarMaxSignalingMessagesPerSecond, strconv.Itoa(sig.MaxMessagesPerSecond), "signaling", "max_messages_per_second")
	add(envVarMaxSignalingBytesPerSecond, strconv.Itoa(sig.MaxBytesPerSecond), "signaling", "max_bytes_per_second")
	add(envVarSignalingSendQueueSize, strconv.Itoa(sig.SendQueueSize), "signaling", "send_queue_size")
	add(envVarMaxClients, strconv.Itoa(sig.MaxClients), "signaling", "max_clients")
	add(envVarRoomIdleTimeout, sig.RoomIdleTimeout, "signaling", "room_idle_timeout")

	ice := fc.ICE
	add(envICEServersJSON, ice.ServersJSON, "ice", "servers_json")
	add(envStunURLs, strings.Join(ice.STUNURLs, ","), "ice", "stun_urls")
	add(envTurnURLs, strings.Join(ice.TURNURLs, ","), "ice", "turn_urls")
	add(envTurnUsername, ice.TURNUsername, "ice", "turn_username")
	add(envTurnCredential, ice.TURNCredential, "ice", "turn_credential")
	add(envVarTURNRESTSharedSecret, ice.TURNREST.SharedSecret, "ice", "turn_rest", "shared_secret")
	add(envVarTURNRESTTTL, ice.TURNREST.TTL, "ice", "turn_rest", "ttl")
	add(envVarTURNRESTUsernamePrefix, ice.TURNREST.UsernamePrefix, "ice", "turn_rest", "username_prefix")

	return out, nil
}

// layeredLookup prefers non-empty environment values over file values.
func layeredLookup(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

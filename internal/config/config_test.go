package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeDev, cfg.Mode)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultSignalingWSIdleTimeout, cfg.SignalingWSIdleTimeout)
	assert.Equal(t, DefaultSignalingWSPingInterval, cfg.SignalingWSPingInterval)
	assert.Equal(t, DefaultMaxSignalingMessageBytes, cfg.MaxSignalingMessageBytes)
	assert.Equal(t, DefaultSignalingSendQueueSize, cfg.SignalingSendQueueSize)

	// Limits are off by default.
	assert.Zero(t, cfg.MaxClients)
	assert.Zero(t, cfg.RoomIdleTimeout)
	assert.Zero(t, cfg.MaxSignalingBytesPerSecond)

	assert.Empty(t, cfg.ICEServers)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	require.NoError(t, err)
	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestExplicitLogFormatWinsOverMode(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
}

func TestLegacyHostPort(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "port only", env: map[string]string{envVarPort: "9000"}, want: "localhost:9000"},
		{name: "host only", env: map[string]string{envVarHost: "0.0.0.0"}, want: "0.0.0.0:8080"},
		{name: "both", env: map[string]string{envVarHost: "::", envVarPort: "7000"}, want: "[::]:7000"},
		{name: "explicit listen addr wins", env: map[string]string{envVarPort: "9000", envVarListenAddr: "127.0.0.1:1234"}, want: "127.0.0.1:1234"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := load(lookupMap(tc.env), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.ListenAddr)
		})
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMaxClients:      "10",
		envVarRoomIdleTimeout: "1m",
	}), []string{"--max-clients", "20", "--room-idle-timeout=30s"})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxClients)
	assert.Equal(t, 30*time.Second, cfg.RoomIdleTimeout)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "ping not below idle", env: map[string]string{envVarSignalingWSIdleTimeout: "10s", envVarSignalingWSPingInterval: "10s"}, want: "must be <"},
		{name: "bad listen addr", args: []string{"--listen-addr", "nohostport"}, want: "invalid listen address"},
		{name: "relative public url", env: map[string]string{envVarPublicBaseURL: "/relay"}, want: "expected absolute URL"},
		{name: "negative max clients", args: []string{"--max-clients=-1"}, want: "max-clients"},
		{name: "zero message size", env: map[string]string{envVarMaxSignalingMessageBytes: "0"}, want: "max-signaling-message-bytes"},
		{name: "bad origin", env: map[string]string{envVarAllowedOrigins: "example.com"}, want: "allowed-origins"},
		{name: "bad mode", args: []string{"--mode", "staging"}, want: "invalid mode"},
		{name: "bad duration", env: map[string]string{envVarRoomIdleTimeout: "soon"}, want: envVarRoomIdleTimeout},
		{name: "turn rest ttl too short", env: map[string]string{envVarTURNRESTSharedSecret: "s3cret", envVarTURNRESTTTL: "10ms"}, want: "turn-rest-ttl"},
		{name: "turn rest prefix with colon", args: []string{"--turn-rest-shared-secret", "s3cret", "--turn-rest-username-prefix", "a:b"}, want: "turn-rest-username-prefix"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestAllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "HTTPS://App.Example.com:443, *, ,http://localhost:5173",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "*", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestConfigFileLayering(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr = "0.0.0.0:9100"
mode = "prod"
allowed_origins = ["https://app.example.com"]

[signaling]
ws_idle_timeout = "90s"
max_clients = 50
room_idle_timeout = "5m"

[ice]
stun_urls = ["stun:stun.example.com:3478"]
`)

	cfg, err := load(lookupMap(map[string]string{
		envVarMaxClients: "75",
	}), []string{"--config", path, "--room-idle-timeout", "1m"})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "0.0.0.0:9100", cfg.ListenAddr)
	assert.Equal(t, ModeProd, cfg.Mode)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, 90*time.Second, cfg.SignalingWSIdleTimeout)
	assert.Equal(t, 75, cfg.MaxClients, "env beats file")
	assert.Equal(t, time.Minute, cfg.RoomIdleTimeout, "flag beats file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.ICEServers[0].URLs)
}

func TestTURNRESTFromFile(t *testing.T) {
	path := writeConfigFile(t, `
[ice]
turn_urls = ["turn:turn.example.com:3478"]

[ice.turn_rest]
shared_secret = "s3cret"
ttl = "10m"
`)
	cfg, err := load(noEnv, []string{"--config", path})
	require.NoError(t, err)
	assert.True(t, cfg.TURNREST.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.TURNREST.TTL)
	assert.Equal(t, DefaultTURNRESTUsernamePrefix, cfg.TURNREST.UsernamePrefix)
}

func TestTURNRESTDisabledByDefault(t *testing.T) {
	cfg, err := load(noEnv, nil)
	require.NoError(t, err)
	assert.False(t, cfg.TURNREST.Enabled(), "turn rest enabled without a secret")
}

func TestConfigFileFromEnv(t *testing.T) {
	path := writeConfigFile(t, "[signaling]\nmax_messages_per_second = 5\n")
	cfg, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxSignalingMessagesPerSecond)
}

func TestConfigFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "listen_adr = \"0.0.0.0:1\"\n")
	_, err := load(noEnv, []string{"-config=" + path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_adr")
}

func TestConfigFileMissing(t *testing.T) {
	_, err := load(noEnv, []string{"--config", filepath.Join(t.TempDir(), "absent.toml")})
	assert.Error(t, err)
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args   []string
		want   string
		wantOK bool
	}{
		{args: nil},
		{args: []string{"--config", "a.toml"}, want: "a.toml", wantOK: true},
		{args: []string{"-config=b.toml"}, want: "b.toml", wantOK: true},
		{args: []string{"--mode", "prod", "--config=c.toml"}, want: "c.toml", wantOK: true},
		{args: []string{"---config", "x"}},
		{args: []string{"--", "--config", "x"}},
		{args: []string{"--config"}},
	}
	for _, tc := range tests {
		got, ok := configPathFromArgs(tc.args)
		assert.Equal(t, tc.want, got, "args %q", tc.args)
		assert.Equal(t, tc.wantOK, ok, "args %q", tc.args)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		_, err := NewLogger(Config{LogFormat: format})
		assert.NoError(t, err, format)
	}
	_, err := NewLogger(Config{LogFormat: "xml"})
	assert.Error(t, err)
}

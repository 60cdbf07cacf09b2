package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers the JSON form over the convenience
// variables. With ephemeralTURN, TURN entries may omit static credentials
// since they are minted per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, ephemeralTURN bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := parseICEServersJSON(raw, ephemeralTURN)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}
	return parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential, ephemeralTURN)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates AERO_ICE_SERVERS_JSON, which uses
// the browser RTCIceServer shape.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return parseICEServersJSON(raw, false)
}

func parseICEServersJSON(raw string, ephemeralTURN bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, u := range server.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}

		s := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			s.Credential = server.Credential
		}
		if err := validateICEServer(s, ephemeralTURN); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds an ICE server list from the
// comma-separated STUN/TURN URL variables.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	return parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential, false)
}

func parseConvenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential string, ephemeralTURN bool) ([]webrtc.ICEServer, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if !ephemeralTURN && (turnUsername == "" || turnCredential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: turnList, Username: turnUsername}
		if turnCredential != "" {
			server.Credential = turnCredential
		}
		if err := validateICEServer(server, ephemeralTURN); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, ephemeralTURN bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, raw := range server.URLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			return errors.New("urls must not contain empty entries")
		}
		if !isAllowedICEScheme(u) {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds && !ephemeralTURN {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isAllowedICEScheme(u string) bool {
	switch {
	case strings.HasPrefix(u, "stun:"),
		strings.HasPrefix(u, "stuns:"),
		strings.HasPrefix(u, "turn:"),
		strings.HasPrefix(u, "turns:"):
		return true
	default:
		return false
	}
}

// ClientICEServers renders servers in the browser RTCIceServer JSON shape
// served by GET /webrtc/ice.
func ClientICEServers(servers []webrtc.ICEServer) []ClientICEServer {
	out := make([]ClientICEServer, 0, len(servers))
	for _, s := range servers {
		cs := ClientICEServer{
			URLs:     append([]string(nil), s.URLs...),
			Username: s.Username,
		}
		if cred, ok := s.Credential.(string); ok {
			cs.Credential = cred
		}
		out = append(out, cs)
	}
	return out
}

type ClientICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (coturn "use-auth-secret", draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoSecret     = errors.New("turnrest: shared secret is required")
	ErrBadTTL       = errors.New("turnrest: ttl must be at least one second")
	ErrBadPrefix    = errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	ErrBadSessionID = errors.New("turnrest: session id must not contain ':'")
)

type Options struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
}

type Minter struct {
	secret []byte
	ttl    int64
	prefix string
	now    func() time.Time
}

func New(opts Options) (*Minter, error) {
	if opts.SharedSecret == "" {
		return nil, ErrNoSecret
	}
	if opts.TTL < time.Second {
		return nil, ErrBadTTL
	}
	if opts.UsernamePrefix == "" || strings.Contains(opts.UsernamePrefix, ":") {
		return nil, ErrBadPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Minter{
		secret: []byte(opts.SharedSecret),
		ttl:    int64(opts.TTL / time.Second),
		prefix: opts.UsernamePrefix,
		now:    opts.Now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Mint signs a username for sessionID. An empty sessionID gets a random one.
func (m *Minter) Mint(sessionID string) (Credentials, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, ErrBadSessionID
	}
	expiry := m.now().UTC().Unix() + m.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, m.prefix, sessionID)
	return Credentials{
		Username:   username,
		Credential: sign(m.secret, username),
		Expires:    time.Unix(expiry, 0).UTC(),
	}, nil
}

// Apply returns a copy of servers with creds set on every entry that lists a
// turn: or turns: URL. STUN entries are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		out[i] = s
		if hasTURNURL(s) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(s webrtc.ICEServer) bool {
	for _, raw := range s.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

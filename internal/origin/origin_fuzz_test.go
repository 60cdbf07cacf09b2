package origin

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func FuzzNormalizeHeader(f *testing.F) {
	for _, seed := range []string{
		"HTTPS://Example.COM:443",
		"http://localhost:5173",
		"http://[::FFFF:192.0.2.1]",
		"null",
		"",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com#frag",
		"https://example.com,https://evil.example.com",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, header string) {
		normalized, host, ok := NormalizeHeader(header)
		if !ok {
			require.Empty(t, normalized, "rejected %q", header)
			require.Empty(t, host, "rejected %q", header)
			return
		}
		if normalized == "null" {
			require.Empty(t, host, "null origin with host")
			return
		}

		scheme, rest, found := strings.Cut(normalized, "://")
		require.True(t, found, "normalized %q has no scheme", normalized)
		require.Contains(t, []string{"http", "https"}, scheme)
		require.Equal(t, host, rest)
		require.False(t, strings.ContainsAny(normalized, " \t\r\n?#"), "normalized %q carries junk", normalized)
		require.NotContains(t, host, "/")

		u, err := url.Parse(normalized)
		require.NoError(t, err)
		require.Equal(t, host, u.Host)

		again, againHost, ok := NormalizeHeader(normalized)
		require.True(t, ok, "renormalizing %q", normalized)
		require.Equal(t, normalized, again)
		require.Equal(t, host, againHost)
	})
}

// FuzzCheckRequest drives the policy the way the WebSocket upgrader and the
// CORS middleware see it: a request Host plus a raw Origin header.
func FuzzCheckRequest(f *testing.F) {
	f.Add("https://app.example.com", "app.example.com", "")
	f.Add("http://localhost:5173", "localhost:5173", "")
	f.Add("null", "relay.example.com", "")
	f.Add("https://evil.example.com", "relay.example.com", "https://app.example.com")
	f.Add("https://good.example.com", "relay.example.com", "*")

	f.Fuzz(func(t *testing.T, header, host, allowList string) {
		var allowed []string
		if allowList != "" {
			allowed = strings.SplitN(allowList, ",", 8)
		}

		r := httptest.NewRequest("GET", "/signal", nil)
		r.Host = host
		r.Header.Set("Origin", header)

		normalized, ok := CheckRequest(r, allowed)
		if strings.TrimSpace(header) == "" {
			require.True(t, ok, "blank Origin must be treated as a non-browser client")
			require.Empty(t, normalized)
			return
		}

		want, originHost, valid := NormalizeHeader(header)
		if !valid {
			require.False(t, ok, "invalid Origin %q was allowed", header)
			return
		}
		require.Equal(t, want, normalized)
		require.Equal(t, IsAllowed(want, originHost, host, allowed), ok, "header %q on host %q", header, host)
		require.True(t, IsAllowed(want, originHost, host, []string{"*"}), "wildcard rejected %q", want)
		if want == "null" {
			require.False(t, IsAllowed(want, originHost, host, nil), "null origin passed the same-host policy")
		}
	})
}

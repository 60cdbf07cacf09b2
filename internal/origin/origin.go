package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default port
// dropped) and the host[:port] portion for same-host comparisons.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || strings.Contains(trimmed, "#") {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether the normalized origin may access requestHost.
//
// A non-empty allowedOrigins list is matched exactly; "*" allows everything.
// Otherwise only the same host[:port] is allowed, with default ports treated
// as equivalent. The scheme is not compared, since TLS is commonly terminated
// by a proxy in front of the relay.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		return false
	}

	normalizedRequestHost, ok := normalizeAuthority(requestHost, scheme)
	if !ok {
		return false
	}
	return originHost == normalizedRequestHost
}

// CheckRequest applies the policy to r's Origin header.
//
// Requests without an Origin header come from non-browser clients and are
// allowed with an empty normalized origin. Repeated Origin headers are
// rejected.
func CheckRequest(r *http.Request, allowedOrigins []string) (normalizedOrigin string, allowed bool) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", true
	case 1:
	default:
		return "", false
	}
	if strings.TrimSpace(values[0]) == "" {
		return "", true
	}

	normalized, host, ok := NormalizeHeader(values[0])
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, allowedOrigins)
}

// normalizeAuthority lower-cases host[:port], validates the port, drops the
// scheme's default port and re-brackets IPv6 literals.
func normalizeAuthority(rawHost, scheme string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(rawHost))
	rawHostname, rawPort, ok := splitHostPort(trimmed)
	if !ok || rawHostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := rawHostname
	if strings.Contains(rawHostname, ":") {
		host = "[" + rawHostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string.
//
// The hostname is returned without brackets for IPv6 literals. The port is
// returned unvalidated and is empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		parts := strings.SplitN(rawHost, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		// Unbracketed IPv6 literals are not valid in an authority.
		return "", "", false
	}
}

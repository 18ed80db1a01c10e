// Package origin decides which browser origins may reach the coordinator's
// HTTP and WebSocket endpoints.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Checker holds the configured origin allowlist. With an empty allowlist the
// policy is same-host: the Origin's host[:port] must match the request's Host
// header. An allowlist entry of "*" allows everything.
type Checker struct {
	allowed []string
}

func NewChecker(allowedOrigins []string) *Checker {
	return &Checker{allowed: allowedOrigins}
}

// CheckRequest reports whether r's Origin header is acceptable. Requests
// without an Origin header are allowed; those come from non-browser clients
// or same-origin navigations, neither of which CSRF protection applies to.
func (c *Checker) CheckRequest(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return true
	}
	normalized, host, ok := Normalize(header)
	if !ok {
		return false
	}
	return c.allows(normalized, host, r.Host)
}

// EchoOrigin returns the Access-Control-Allow-Origin value for r, or false
// when the origin is absent or not allowed.
func (c *Checker) EchoOrigin(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", false
	}
	normalized, host, ok := Normalize(header)
	if !ok {
		return "", false
	}
	if !c.allows(normalized, host, r.Host) {
		return "", false
	}
	return normalized, true
}

func (c *Checker) allows(normalizedOrigin, originHost, requestHost string) bool {
	if len(c.allowed) > 0 {
		for _, allowed := range c.allowed {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	// Same host:port fallback. Scheme is intentionally not compared: behind a
	// TLS-terminating reverse proxy the request looks like HTTP while the
	// browser Origin is HTTPS.
	scheme := ""
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" cannot match a host-based request.
		return false
	}

	normalizedRequestHost, ok := normalizeHost(requestHost, scheme)
	if !ok {
		return false
	}
	return originHost == normalizedRequestHost
}

// Normalize validates and normalizes a browser Origin header. It returns the
// normalized origin (scheme://host[:port], default ports stripped) and the
// host[:port] portion for same-host comparisons. The special value "null" is
// passed through.
func Normalize(originHeader string) (normalizedOrigin string, host string, ok bool) {
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
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases a host[:port] authority, validates the port, and
// strips the scheme's default port.
func normalizeHost(rawHost, scheme string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(rawHost))
	if trimmed == "" {
		return "", false
	}

	hostname, rawPort, ok := splitHostPort(trimmed)
	if !ok || hostname == "" {
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

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string. IPv6 literals come
// back without brackets; the port is empty when absent.
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
		if !strings.HasPrefix(rest, ":") || rest == ":" {
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
		// Unbracketed IPv6 literals are not valid authority components.
		return "", "", false
	}
}

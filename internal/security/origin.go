package security

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates browser origins for CORS and the terminal
// websocket.
//
// Requests without an Origin header are not from a browser page and are
// allowed. With no allow list every origin is allowed, unless the server is
// bound to loopback, in which case only loopback origins are.
type OriginChecker struct {
	allowed      []string
	loopbackOnly bool
}

// NewOriginChecker creates a checker. Patterns are exact origins
// ("https://desk.example.com") or wildcard subdomains ("*.ts.net").
func NewOriginChecker(allowed []string, loopbackOnly bool) *OriginChecker {
	patterns := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a != "" {
			patterns = append(patterns, strings.TrimSuffix(a, "/"))
		}
	}
	return &OriginChecker{allowed: patterns, loopbackOnly: loopbackOnly}
}

// Allowed reports whether origin may talk to the server.
func (oc *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if oc.loopbackOnly && IsLoopbackHost(u.Hostname()) {
		return true
	}
	for _, pattern := range oc.allowed {
		if matchOrigin(u, origin, pattern) {
			return true
		}
	}
	return len(oc.allowed) == 0 && !oc.loopbackOnly
}

// CheckOrigin implements websocket.Upgrader.CheckOrigin.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	return oc.Allowed(r.Header.Get("Origin"))
}

// IsLoopbackHost reports whether host names this machine.
func IsLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func matchOrigin(u *url.URL, origin, pattern string) bool {
	if pattern == "*" || origin == pattern {
		return true
	}
	domain, ok := strings.CutPrefix(pattern, "*.")
	if !ok {
		return false
	}
	host := u.Hostname()
	return host == domain || strings.HasSuffix(host, "."+domain)
}

package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientResolver derives the caller's address and the host it used from a
// request. Forwarded headers are honoured only from trusted proxies.
type ClientResolver struct {
	trusted []*net.IPNet
}

// NewClientResolver parses trusted proxy entries (single IPs or CIDRs).
func NewClientResolver(trustedProxies []string) (*ClientResolver, error) {
	trusted := make([]*net.IPNet, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			trusted = append(trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		trusted = append(trusted, cidr)
	}
	return &ClientResolver{trusted: trusted}, nil
}

// ClientIP returns the caller's IP.
func (cr *ClientResolver) ClientIP(r *http.Request) string {
	if cr.fromTrustedProxy(r) {
		if ip := parseIP(firstValue(r.Header.Get("X-Forwarded-For"))); ip != nil {
			return ip.String()
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}
	if ip := parseIP(r.RemoteAddr); ip != nil {
		return ip.String()
	}
	return ""
}

// Host returns the host (with port, if any) the caller addressed.
func (cr *ClientResolver) Host(r *http.Request) string {
	if cr.fromTrustedProxy(r) {
		if h := firstValue(r.Header.Get("X-Forwarded-Host")); h != "" {
			return h
		}
	}
	return r.Host
}

func (cr *ClientResolver) fromTrustedProxy(r *http.Request) bool {
	ip := parseIP(r.RemoteAddr)
	if ip == nil {
		return false
	}
	for _, n := range cr.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func firstValue(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

func parseIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(strings.Trim(addr, "[]"))
}

package security

import (
	"net/http/httptest"
	"testing"
)

func TestOriginChecker_Allowed(t *testing.T) {
	tests := []struct {
		name         string
		allowed      []string
		loopbackOnly bool
		origin       string
		want         bool
	}{
		{"no origin header", []string{"https://a.example"}, true, "", true},
		{"open when unconfigured", nil, false, "http://192.168.1.9:5000", true},
		{"loopback only rejects lan", nil, true, "http://192.168.1.9:5000", false},
		{"loopback only accepts localhost", nil, true, "http://localhost:5000", true},
		{"loopback only accepts 127.0.0.1", nil, true, "http://127.0.0.1:3000", true},
		{"loopback only accepts ::1", nil, true, "http://[::1]:3000", true},
		{"exact match", []string{"https://desk.example.com"}, false, "https://desk.example.com", true},
		{"trailing slash in pattern", []string{"https://desk.example.com/"}, false, "https://desk.example.com", true},
		{"exact mismatch", []string{"https://desk.example.com"}, false, "https://evil.example.com", false},
		{"wildcard subdomain", []string{"*.ts.net"}, false, "https://desk.tail1234.ts.net", true},
		{"wildcard apex", []string{"*.ts.net"}, false, "https://ts.net", true},
		{"wildcard lookalike", []string{"*.ts.net"}, false, "https://evilts.net", false},
		{"star", []string{"*"}, true, "https://anything.example", true},
		{"garbage origin", nil, false, "::::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oc := NewOriginChecker(tt.allowed, tt.loopbackOnly)
			if got := oc.Allowed(tt.origin); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginChecker_CheckOrigin(t *testing.T) {
	oc := NewOriginChecker([]string{"https://desk.example.com"}, false)

	r := httptest.NewRequest("GET", "/terminal", nil)
	r.Header.Set("Origin", "https://desk.example.com")
	if !oc.CheckOrigin(r) {
		t.Error("expected allowed origin")
	}
	r.Header.Set("Origin", "https://other.example.com")
	if oc.CheckOrigin(r) {
		t.Error("expected rejected origin")
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":     true,
		"app.localhost": true,
		"127.0.0.1":     true,
		"127.1.2.3":     true,
		"::1":           true,
		"192.168.0.1":   false,
		"example.com":   false,
	} {
		if got := IsLoopbackHost(host); got != want {
			t.Errorf("IsLoopbackHost(%q) = %v, want %v", host, got, want)
		}
	}
}

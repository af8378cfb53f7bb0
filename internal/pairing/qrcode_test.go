package pairing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net"
	"strings"
	"testing"
)

func ipNet(s string) net.Addr {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestQRGenerator_URL(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		addrs []net.Addr
		want  string
	}{
		{
			name:  "external url wins",
			cfg:   Config{ExternalURL: "https://desk.example.com"},
			addrs: []net.Addr{ipNet("100.101.1.2/32")},
			want:  "https://desk.example.com",
		},
		{
			name:  "tailnet address",
			addrs: []net.Addr{ipNet("127.0.0.1/8"), ipNet("192.168.1.5/24"), ipNet("100.101.1.2/32")},
			want:  "https://100.101.1.2:5000",
		},
		{
			name:  "outside tailnet range",
			addrs: []net.Addr{ipNet("100.128.0.1/32"), ipNet("10.0.0.1/8")},
			want:  "https://localhost:5000",
		},
		{
			name: "custom scheme and port",
			cfg:  Config{Scheme: "http", UIPort: 3000},
			want: "http://localhost:3000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewQRGenerator(tt.cfg)
			g.addrs = func() ([]net.Addr, error) { return tt.addrs, nil }
			if got := g.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQRGenerator_Generate(t *testing.T) {
	g := NewQRGenerator(Config{})

	qr, err := g.Generate("https://100.101.1.2:5000")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if qr.Status != "success" || qr.Format != "base64" || qr.URL != "https://100.101.1.2:5000" {
		t.Errorf("unexpected payload: %+v", qr)
	}

	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(qr.QRBase64, prefix) {
		t.Fatalf("expected data URI, got %.40s", qr.QRBase64)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qr.QRBase64, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	if len(png) != qr.QRSizeBytes {
		t.Errorf("qr_size_bytes = %d, decoded %d", qr.QRSizeBytes, len(png))
	}

	pngSignature := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if !bytes.HasPrefix(png, pngSignature) {
		t.Error("PNG signature mismatch")
	}
	if qr.GeneratedAt.IsZero() {
		t.Error("generated_at not set")
	}
}

func TestQRGenerator_GenerateTerminal(t *testing.T) {
	g := NewQRGenerator(Config{})

	qrStr, err := g.GenerateTerminal("http://localhost:5000")
	if err != nil {
		t.Fatalf("GenerateTerminal failed: %v", err)
	}
	if lines := strings.Split(qrStr, "\n"); len(lines) < 5 {
		t.Errorf("expected at least 5 lines in QR code, got %d", len(lines))
	}
}

func TestQRGenerator_PrintToTerminal(t *testing.T) {
	g := NewQRGenerator(Config{ExternalURL: "https://desk.example.com"})

	var buf bytes.Buffer
	g.PrintToTerminal(&buf)
	if !strings.Contains(buf.String(), "Scan to open https://desk.example.com") {
		t.Errorf("missing header in %q", buf.String())
	}

	g = NewQRGenerator(Config{ExternalURL: "ftp://desk"})
	buf.Reset()
	g.PrintToTerminal(&buf)
	if !strings.Contains(buf.String(), "Error generating QR code") {
		t.Errorf("expected error line, got %q", buf.String())
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com", true},
		{"http://localhost:5000/ui", true},
		{"", false},
		{"ftp://example.com", false},
		{"javascript:alert(1)", false},
		{"https://", false},
		{"https://example.com/" + strings.Repeat("a", 2048), false},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.ok && err != nil {
			t.Errorf("ValidateURL(%.30q) = %v, want nil", tt.url, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ValidateURL(%.30q) = %v, want ErrInvalidURL", tt.url, err)
		}
	}
}

func TestTailnetIP(t *testing.T) {
	addrs := []net.Addr{
		ipNet("::1/128"),
		&net.IPAddr{IP: net.ParseIP("100.64.0.1")},
	}
	ip, ok := TailnetIP(addrs)
	if !ok || ip != "100.64.0.1" {
		t.Errorf("TailnetIP() = %q, %v", ip, ok)
	}
	if _, ok := TailnetIP(nil); ok {
		t.Error("TailnetIP(nil) reported an address")
	}
}

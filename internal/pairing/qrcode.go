// Package pairing produces the QR code a phone scans to open the touchcore UI.
package pairing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// Defaults for the advertised UI endpoint.
const (
	DefaultScheme = "https"
	DefaultUIPort = 5000
	DefaultSize   = 256

	maxURLLength = 2048
)

// ErrInvalidURL is returned for URLs that cannot be encoded.
var ErrInvalidURL = errors.New("invalid pairing url")

// tailnet is the CGNAT range tailnet nodes are addressed from.
var tailnet = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// Config controls which URL is advertised.
type Config struct {
	// ExternalURL, when set, is encoded as is.
	ExternalURL string

	Scheme string
	UIPort int

	// Size is the PNG edge length in pixels.
	Size int
}

// QRCode is the /qr payload.
type QRCode struct {
	Status      string    `json:"status"`
	URL         string    `json:"url"`
	Format      string    `json:"format"`
	QRBase64    string    `json:"qr_base64"`
	GeneratedAt time.Time `json:"generated_at"`
	QRSizeBytes int       `json:"qr_size_bytes"`
}

// QRGenerator generates pairing QR codes.
type QRGenerator struct {
	cfg   Config
	addrs func() ([]net.Addr, error)
}

// NewQRGenerator creates a generator.
func NewQRGenerator(cfg Config) *QRGenerator {
	if cfg.Scheme == "" {
		cfg.Scheme = DefaultScheme
	}
	if cfg.UIPort <= 0 {
		cfg.UIPort = DefaultUIPort
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	return &QRGenerator{cfg: cfg, addrs: net.InterfaceAddrs}
}

// URL returns the UI URL to advertise: the external URL, else the first
// tailnet address of this host, else localhost.
func (g *QRGenerator) URL() string {
	if g.cfg.ExternalURL != "" {
		return g.cfg.ExternalURL
	}
	host := "localhost"
	if addrs, err := g.addrs(); err == nil {
		if ip, ok := TailnetIP(addrs); ok {
			host = ip
		}
	} else {
		log.Debug().Err(err).Msg("failed to list interface addresses")
	}
	return g.cfg.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(g.cfg.UIPort))
}

// Generate encodes rawURL as a base64 PNG data URI.
func (g *QRGenerator) Generate(rawURL string) (*QRCode, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(rawURL, qrcode.Medium, g.cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	log.Info().Str("url", rawURL).Int("bytes", len(png)).Msg("pairing qr code generated")

	return &QRCode{
		Status:      "success",
		URL:         rawURL,
		Format:      "base64",
		QRBase64:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		GeneratedAt: time.Now().UTC(),
		QRSizeBytes: len(png),
	}, nil
}

// GenerateTerminal renders rawURL as a QR code made of block characters.
func (g *QRGenerator) GenerateTerminal(rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}
	qr, err := qrcode.New(rawURL, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// PrintToTerminal writes the QR code for the advertised URL to w.
func (g *QRGenerator) PrintToTerminal(w io.Writer) {
	target := g.URL()
	qrStr, err := g.GenerateTerminal(target)
	if err != nil {
		fmt.Fprintf(w, "  [Error generating QR code: %v]\n", err)
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Scan to open %s\n", target)
	fmt.Fprintln(w)
	for _, line := range strings.Split(qrStr, "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)
}

// ValidateURL accepts absolute http and https URLs up to 2048 bytes.
func ValidateURL(rawURL string) error {
	if rawURL == "" || len(rawURL) > maxURLLength {
		return fmt.Errorf("%w: length %d", ErrInvalidURL, len(rawURL))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	return nil
}

// TailnetIP returns the first IPv4 address in 100.64.0.0/10.
func TailnetIP(addrs []net.Addr) (string, bool) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && tailnet.Contains(ip4) {
			return ip4.String(), true
		}
	}
	return "", false
}

// Package security holds the request gates of the touchcore server: the
// shared access token, origin checks and client address resolution.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned when a request carries a wrong or no token.
var ErrInvalidToken = errors.New("invalid token")

// TokenGate checks the shared access token. A gate with an empty token
// admits everything.
type TokenGate struct {
	token []byte
}

// NewTokenGate creates a gate for token.
func NewTokenGate(token string) *TokenGate {
	return &TokenGate{token: []byte(strings.TrimSpace(token))}
}

// Enabled reports whether a token is required.
func (g *TokenGate) Enabled() bool {
	return len(g.token) > 0
}

// Check validates an Authorization value. Both the raw token and
// "Bearer <token>" are accepted. The comparison is constant time.
func (g *TokenGate) Check(authorization string) error {
	if !g.Enabled() {
		return nil
	}
	presented := strings.TrimSpace(authorization)
	if scheme, rest, ok := strings.Cut(presented, " "); ok && strings.EqualFold(scheme, "Bearer") {
		presented = strings.TrimSpace(rest)
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), g.token) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// CheckRequest validates the request's Authorization header. Websocket
// upgrades from browsers cannot set headers, so a "token" query parameter
// is accepted as a fallback.
func (g *TokenGate) CheckRequest(r *http.Request) error {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return g.Check(auth)
	}
	return g.Check(r.URL.Query().Get("token"))
}

// GenerateToken returns a random URL-safe token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

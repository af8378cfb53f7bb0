// Package http implements the HTTP API server for touchcore.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/brianly1003/touchcore/internal/audit"
	"github.com/brianly1003/touchcore/internal/files"
	"github.com/brianly1003/touchcore/internal/input"
	"github.com/brianly1003/touchcore/internal/pairing"
	"github.com/brianly1003/touchcore/internal/security"
	terminalws "github.com/brianly1003/touchcore/internal/server/websocket"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// FileService lists, reads and writes host files.
type FileService interface {
	List(path string) (*files.Listing, error)
	Read(path string) (*files.Content, error)
	Write(path, content string) (*files.WriteResult, error)
}

// MouseController applies remote pointer actions.
type MouseController interface {
	Apply(ctx context.Context, a input.Action) (input.ActionResult, error)
	Stats(ctx context.Context) input.Stats
}

// TerminalEndpoint serves terminal websocket connections.
type TerminalEndpoint interface {
	HandleTerminal(w http.ResponseWriter, r *http.Request)
	Sessions() []terminalws.SessionInfo
	SessionCount() int
}

// DiscoverySource provides the runtime and tunnel descriptors.
type DiscoverySource interface {
	RuntimeConfig(host string) (json.RawMessage, error)
	TunnelStatus() (json.RawMessage, error)
}

// PairingSource produces the pairing QR code.
type PairingSource interface {
	URL() string
	Generate(rawURL string) (*pairing.QRCode, error)
}

// AuditReader returns recent audit events.
type AuditReader interface {
	Recent(ctx context.Context, n int) ([]audit.Event, error)
}

// Server is the HTTP API server.
type Server struct {
	server   *http.Server
	listener net.Listener
	addr     string
	version  string

	files     FileService
	mouse     MouseController
	terminal  TerminalEndpoint
	discovery DiscoverySource
	pairing   PairingSource
	audit     AuditReader

	originChecker *security.OriginChecker
	tokenGate     *security.TokenGate
	resolver      *security.ClientResolver
	authExempt    map[string]bool
}

// New creates a new HTTP server. Components are attached with the Set
// methods before Start; routes whose component is missing answer 503.
func New(host string, port int, version string) *Server {
	resolver, _ := security.NewClientResolver(nil)
	return &Server{
		addr:          net.JoinHostPort(host, fmt.Sprint(port)),
		version:       version,
		originChecker: security.NewOriginChecker(nil, false),
		tokenGate:     security.NewTokenGate(""),
		resolver:      resolver,
		authExempt:    defaultAuthExempt(),
	}
}

// SetFiles sets the file service.
func (s *Server) SetFiles(svc FileService) { s.files = svc }

// SetMouse sets the pointer controller.
func (s *Server) SetMouse(c MouseController) { s.mouse = c }

// SetTerminal sets the terminal websocket endpoint.
func (s *Server) SetTerminal(t TerminalEndpoint) { s.terminal = t }

// SetDiscovery sets the descriptor source.
func (s *Server) SetDiscovery(d DiscoverySource) { s.discovery = d }

// SetPairing sets the QR source.
func (s *Server) SetPairing(p PairingSource) { s.pairing = p }

// SetAudit sets the audit reader behind /log.
func (s *Server) SetAudit(a AuditReader) { s.audit = a }

// SetOriginChecker sets the origin checker for CORS validation.
func (s *Server) SetOriginChecker(checker *security.OriginChecker) {
	if checker != nil {
		s.originChecker = checker
	}
}

// SetTokenGate sets the shared access token check.
func (s *Server) SetTokenGate(gate *security.TokenGate) {
	if gate != nil {
		s.tokenGate = gate
	}
}

// SetClientResolver sets how client addresses and hosts are derived.
func (s *Server) SetClientResolver(resolver *security.ClientResolver) {
	if resolver != nil {
		s.resolver = resolver
	}
}

// defaultAuthExempt lists the paths served without a token.
func defaultAuthExempt() map[string]bool {
	return map[string]bool{
		"/":               true,
		"/health":         true,
		"/qr":             true,
		"/config/runtime": true,
		"/tunnel/status":  true,
	}
}

// Handler returns the routed handler with the middleware chain applied:
// request -> logging -> cors -> auth -> router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Files
	router.HandleFunc("/files", s.handleListFiles).Methods(http.MethodGet)
	router.HandleFunc("/read", s.handleReadFile).Methods(http.MethodPost)
	router.HandleFunc("/write", s.handleWriteFile).Methods(http.MethodPost)

	// Pointer
	router.HandleFunc("/mouse", s.handleMouse).Methods(http.MethodPost)
	router.HandleFunc("/mouse/stats", s.handleMouseStats).Methods(http.MethodGet)

	// Terminal
	router.HandleFunc("/terminal", s.handleTerminal).Methods(http.MethodGet)
	router.HandleFunc("/terminal/sessions", s.handleTerminalSessions).Methods(http.MethodGet)

	// Pairing, audit and discovery
	router.HandleFunc("/qr", s.handleQR).Methods(http.MethodGet)
	router.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	router.HandleFunc("/config/runtime", s.handleRuntimeConfig).Methods(http.MethodGet)
	router.HandleFunc("/tunnel/status", s.handleTunnelStatus).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "Not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	var handler http.Handler = router
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.requestLoggingMiddleware(handler)
	return handler
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// No Read/WriteTimeout: they would cut long-lived terminal connections.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// requestLoggingMiddleware logs all incoming requests for debugging.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := s.resolver.ClientIP(r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client_ip", clientIP).
			Str("user_agent", r.UserAgent()).
			Msg("incoming request")

		next.ServeHTTP(w, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client_ip", clientIP).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// corsMiddleware adds CORS headers for origins the checker allows.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originChecker.Allowed(origin) {
				log.Warn().
					Str("origin", origin).
					Str("remote", r.RemoteAddr).
					Msg("CORS request rejected - origin not allowed")
				writeJSONError(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the shared access token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokenGate.Enabled() || r.Method == http.MethodOptions || s.authExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if err := s.tokenGate.CheckRequest(r); err != nil {
			log.Warn().
				Str("path", r.URL.Path).
				Str("client_ip", s.resolver.ClientIP(r)).
				Msg("unauthorized request")
			writeJSONError(w, "Invalid token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)

	// Flush to ensure response is sent immediately
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeRawJSON writes an already encoded document unchanged.
func writeRawJSON(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

package websocket

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/brianly1003/touchcore/internal/security"
	"github.com/brianly1003/touchcore/internal/terminal"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 15 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum input frame size allowed from peer.
	maxMessageSize = 64 * 1024

	// Bytes read from the shell per chunk.
	shellReadSize = 8192

	// Output chunks queued per connection.
	outputQueueSize = 256

	// Time the PTY may stay open after the shell process has exited.
	exitDrainWait = 500 * time.Millisecond

	// Largest window accepted from the cols/rows query.
	maxWindowSize = 1000
)

// EventRecorder receives an audit entry per finished terminal session.
type EventRecorder interface {
	Record(ctx context.Context, kind, message string, fields map[string]any) error
}

// ShellFactory starts the shell for a new connection.
type ShellFactory func() (Shell, error)

// Config configures the terminal endpoint.
type Config struct {
	Shell        terminal.ShellConfig
	BinaryFrames bool
}

// Server owns the live terminal connections.
type Server struct {
	cfg      Config
	checker  *security.OriginChecker
	upgrader websocket.Upgrader
	spawn    ShellFactory
	audit    EventRecorder

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewServer creates the terminal endpoint. A nil checker admits every origin.
func NewServer(cfg Config, checker *security.OriginChecker) *Server {
	if checker == nil {
		checker = security.NewOriginChecker(nil, false)
	}
	s := &Server{
		cfg:     cfg,
		checker: checker,
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: shellReadSize,
		CheckOrigin:     checker.CheckOrigin,
	}
	s.spawn = func() (Shell, error) {
		sh, err := terminal.StartShell(cfg.Shell)
		if err != nil {
			return nil, err
		}
		return sh, nil
	}
	return s
}

// SetAudit sets where finished sessions are recorded.
func (s *Server) SetAudit(rec EventRecorder) {
	s.audit = rec
}

// HandleTerminal upgrades the request and bridges it to a new shell.
func (s *Server) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	if !s.checker.CheckOrigin(r) {
		log.Warn().
			Str("origin", r.Header.Get("Origin")).
			Str("remote_addr", r.RemoteAddr).
			Msg("terminal connection rejected - origin not allowed")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected websocket upgrade", http.StatusBadRequest)
		return
	}

	shell, err := s.spawn()
	if err != nil {
		log.Error().Err(err).Msg("failed to start shell")
		http.Error(w, "Failed to start shell", http.StatusInternalServerError)
		return
	}

	if cols, rows, ok := windowSize(r); ok {
		if err := shell.Resize(cols, rows); err != nil {
			log.Debug().Err(err).Msg("failed to apply requested window size")
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade terminal connection")
		_ = shell.Close()
		return
	}

	client := newClient(conn, shell, s.cfg.BinaryFrames, s.removeClient)

	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()

	log.Info().
		Str("session_id", client.ID()).
		Str("remote_addr", client.remoteAddr).
		Int("pid", shell.PID()).
		Msg("terminal session started")

	client.Start()
}

// windowSize reads the optional ?cols=&rows= initial terminal size.
func windowSize(r *http.Request) (cols, rows uint16, ok bool) {
	q := r.URL.Query()
	c, err := strconv.Atoi(q.Get("cols"))
	if err != nil || c < 1 || c > maxWindowSize {
		return 0, 0, false
	}
	n, err := strconv.Atoi(q.Get("rows"))
	if err != nil || n < 1 || n > maxWindowSize {
		return 0, 0, false
	}
	return uint16(c), uint16(n), true
}

// removeClient unregisters a closed client and records its stats.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	s.mu.Unlock()

	info := c.Info()
	log.Info().
		Str("session_id", info.ID).
		Float64("duration_seconds", info.DurationSeconds).
		Int64("bytes_received", info.BytesReceived).
		Int64("bytes_sent", info.BytesSent).
		Int64("command_count", info.CommandCount).
		Msg("terminal session ended")

	if s.audit != nil {
		fields := map[string]any{
			"session_id":       info.ID,
			"remote_addr":      info.RemoteAddr,
			"duration_seconds": info.DurationSeconds,
			"bytes_received":   info.BytesReceived,
			"bytes_sent":       info.BytesSent,
			"command_count":    info.CommandCount,
		}
		if err := s.audit.Record(context.Background(), "terminal", "terminal session ended", fields); err != nil {
			log.Debug().Err(err).Msg("failed to record terminal session")
		}
	}
}

// Sessions returns the live sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Info())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stop closes every session and waits for them to unregister.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	log.Info().Int("sessions", len(clients)).Msg("terminal server stopping")

	var g errgroup.Group
	for _, c := range clients {
		g.Go(func() error {
			c.Close()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

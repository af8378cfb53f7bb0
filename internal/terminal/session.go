// Package terminal implements both ends of the remote shell: the client-side
// session bridge that a terminal view owns, and the PTY-backed shell the
// server attaches to each /terminal connection.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClosedNotice is appended to the display when the channel closes remotely
// or cannot be established.
const ClosedNotice = "\r\n[Connection closed]"

const (
	// DefaultHandshakeTimeout bounds channel establishment.
	DefaultHandshakeTimeout = 10 * time.Second

	closeWait = time.Second
)

var (
	// ErrSessionClosed is returned by Send once the session is closed.
	ErrSessionClosed = errors.New("terminal session closed")

	// ErrNotOpen is returned by Send before the channel is open.
	ErrNotOpen = errors.New("terminal session not open")

	// ErrAlreadyStarted is returned by Open on a session that is not idle.
	ErrAlreadyStarted = errors.New("terminal session already started")
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionConfig holds explicit connection settings for a Session.
type SessionConfig struct {
	// URL of the terminal endpoint, e.g. ws://192.168.1.20:8000/terminal.
	URL string

	// Token is sent as the Authorization header when set.
	Token string

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer

	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Session is one duplex channel to the terminal endpoint.
//
// Inbound frames are written to the display verbatim as they arrive.
// Outbound input is sent verbatim as it is given to Send. The two directions
// run independently. Once the session is closed nothing more is written to
// the display and nothing more is sent; a closed session is never reopened.
type Session struct {
	cfg     SessionConfig
	display io.Writer
	logger  *slog.Logger

	// mu guards state, conn and every display write so that a close
	// cannot interleave with an inbound write.
	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	// Set while connecting so Close can abort the handshake.
	cancelDial context.CancelFunc
	dialConn   net.Conn

	writeMu sync.Mutex

	done chan struct{}
}

// NewSession creates an idle session that renders into display.
func NewSession(cfg SessionConfig, display io.Writer) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		display: display,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Open establishes the channel. On failure the closed notice is written to
// the display once and the session becomes closed; there is no retry.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.state = StateConnecting
	s.cancelDial = cancel
	s.mu.Unlock()

	dialer := websocket.DefaultDialer
	if s.cfg.Dialer != nil {
		dialer = s.cfg.Dialer
	}
	d := *dialer
	d.HandshakeTimeout = s.cfg.HandshakeTimeout
	d.NetDialContext = s.trackDial(dialer)

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", s.cfg.Token)
	}

	conn, resp, err := d.DialContext(dialCtx, s.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	s.cancelDial = nil
	s.dialConn = nil
	closedLocally := s.state == StateClosed
	s.mu.Unlock()

	if err != nil {
		if closedLocally {
			return ErrSessionClosed
		}
		s.logger.Debug("terminal channel failed to open", "url", s.cfg.URL, "error", err)
		s.finish()
		return fmt.Errorf("open terminal channel: %w", err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed locally while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.logger.Debug("terminal channel open", "url", s.cfg.URL)
	go s.readLoop(conn)
	return nil
}

// trackDial wraps the dialer's network dial so the raw connection can be
// closed if the session is closed mid-handshake.
func (s *Session) trackDial(dialer *websocket.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dial := dialer.NetDialContext
	if dial == nil {
		var nd net.Dialer
		dial = nd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state != StateConnecting {
			_ = c.Close()
			return nil, ErrSessionClosed
		}
		s.dialConn = c
		return c, nil
	}
}

// Send forwards one unit of local input to the remote shell unchanged.
func (s *Session) Send(p []byte) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrSessionClosed
	case StateOpen:
	default:
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-check under the write lock: Close takes writeMu before sending the
	// close frame, so nothing slips out after it.
	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
		s.logger.Debug("terminal send failed", "error", err)
		s.finish()
		return ErrSessionClosed
	}
	return nil
}

// Close closes the session locally. No notice is written. It is safe to
// call more than once and from any goroutine.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	conn := s.conn
	cancel, pending := s.cancelDial, s.dialConn
	s.mu.Unlock()

	close(s.done)

	if cancel != nil {
		cancel()
	}
	if pending != nil {
		_ = pending.Close()
	}
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	s.writeMu.Unlock()

	return conn.Close()
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("terminal channel read error", "error", err)
			}
			s.finish()
			return
		}

		s.mu.Lock()
		if s.state != StateOpen {
			s.mu.Unlock()
			return
		}
		if _, err := s.display.Write(data); err != nil {
			s.logger.Debug("terminal display write failed", "error", err)
		}
		s.mu.Unlock()
	}
}

// finish moves the session to closed because of a remote or transport
// event and appends the notice after whatever output came before.
func (s *Session) finish() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	conn := s.conn
	_, _ = io.WriteString(s.display, ClosedNotice)
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		_ = conn.Close()
	}
}

// Package websocket serves the /terminal endpoint: each connection is bridged
// to its own shell running under a pseudo-terminal.
//
// Each Client runs three goroutines:
//   - readShell copies shell output into the output queue
//   - writePump sends queued output as frames and keeps the peer alive with pings
//   - readPump writes every inbound frame, text or binary, to the shell
//
// Output frames are text unless binary frames are enabled. Text frames never
// split a UTF-8 sequence across two frames.
package websocket

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Shell is the process behind a terminal connection.
type Shell interface {
	io.ReadWriteCloser
	PID() int
	Resize(cols, rows uint16) error
	// Exited is closed when the shell process ends. It may be nil.
	Exited() <-chan struct{}
}

// sensitiveKeywords mark input that is never written to the debug log.
var sensitiveKeywords = []string{"password", "passwd", "secret", "key"}

// SessionInfo is a snapshot of one terminal connection.
type SessionInfo struct {
	ID              string    `json:"session_id"`
	RemoteAddr      string    `json:"remote_addr"`
	PID             int       `json:"pid,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	BytesReceived   int64     `json:"bytes_received"`
	BytesSent       int64     `json:"bytes_sent"`
	CommandCount    int64     `json:"command_count"`
}

// Client bridges one websocket connection to one shell.
type Client struct {
	id         string
	conn       *websocket.Conn
	shell      Shell
	binary     bool
	remoteAddr string
	startedAt  time.Time
	onClose    func(*Client)

	output    chan []byte
	readDone  chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
	commands      atomic.Int64
}

func newClient(conn *websocket.Conn, shell Shell, binary bool, onClose func(*Client)) *Client {
	return &Client{
		id:         uuid.New().String(),
		conn:       conn,
		shell:      shell,
		binary:     binary,
		remoteAddr: conn.RemoteAddr().String(),
		startedAt:  time.Now(),
		onClose:    onClose,
		output:     make(chan []byte, outputQueueSize),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Client) ID() string {
	return c.id
}

// Info returns the connection's current stats.
func (c *Client) Info() SessionInfo {
	return SessionInfo{
		ID:              c.id,
		RemoteAddr:      c.remoteAddr,
		PID:             c.shell.PID(),
		StartedAt:       c.startedAt,
		DurationSeconds: time.Since(c.startedAt).Seconds(),
		BytesReceived:   c.bytesReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		CommandCount:    c.commands.Load(),
	}
}

// Start starts the pumps.
func (c *Client) Start() {
	go c.readShell()
	go c.writePump()
	go c.readPump()
	go c.watchExit()
}

// watchExit hangs up the PTY when the shell process is gone but its output
// never reaches EOF, as happens when a background job keeps the terminal
// open.
func (c *Client) watchExit() {
	select {
	case <-c.shell.Exited():
	case <-c.readDone:
		return
	case <-c.done:
		return
	}

	select {
	case <-c.readDone:
	case <-c.done:
	case <-time.After(exitDrainWait):
		log.Debug().Str("session_id", c.id).Msg("shell exited with terminal still open")
		if err := c.shell.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", c.id).Msg("shell close error")
		}
	}
}

// Close terminates the shell and the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.shell.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", c.id).Msg("shell close error")
		}
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// readShell queues shell output until the shell exits. Closing the queue
// tells writePump to end the connection.
func (c *Client) readShell() {
	defer close(c.readDone)
	defer close(c.output)

	buf := make([]byte, shellReadSize)
	for {
		n, err := c.shell.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.output <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("session_id", c.id).Msg("shell read ended")
			}
			return
		}
	}
}

// writePump sends shell output to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	var framer textFramer
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case chunk, ok := <-c.output:
			if !ok {
				if rest := framer.flush(); len(rest) > 0 {
					_ = c.write(websocket.TextMessage, rest)
				}
				log.Info().Str("session_id", c.id).Msg("shell exited")
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shell exited"))
				return
			}

			msgType, payload := websocket.BinaryMessage, chunk
			if !c.binary {
				msgType, payload = websocket.TextMessage, framer.frame(chunk)
				if len(payload) == 0 {
					continue
				}
			}
			if err := c.write(msgType, payload); err != nil {
				log.Debug().Err(err).Str("session_id", c.id).Msg("write error")
				return
			}
			c.bytesSent.Add(int64(len(chunk)))

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("session_id", c.id).Msg("ping error")
				return
			}
		}
	}
}

func (c *Client) write(msgType int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msgType, payload)
}

// readPump forwards peer input to the shell.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session_id", c.id).Msg("websocket read error")
			}
			return
		}
		if len(message) == 0 {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if _, err := c.shell.Write(message); err != nil {
			log.Debug().Err(err).Str("session_id", c.id).Msg("shell write error")
			return
		}
		c.bytesReceived.Add(int64(len(message)))
		c.commands.Add(int64(countLines(message)))

		log.Debug().Str("session_id", c.id).Str("input", redact(message)).Msg("terminal input")
	}
}

// countLines approximates the number of submitted commands. A CRLF pair
// counts once.
func countLines(p []byte) int {
	return bytes.Count(p, []byte{'\n'}) + bytes.Count(p, []byte{'\r'}) - bytes.Count(p, []byte("\r\n"))
}

// redact returns input for logging, or a placeholder when it looks sensitive.
func redact(p []byte) string {
	lower := strings.ToLower(string(p))
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return "[REDACTED]"
		}
	}
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(string(p))
}

// textFramer turns shell output into valid UTF-8 text frames. An incomplete
// sequence at the end of a chunk is held until the next one.
type textFramer struct {
	pending []byte
}

func (f *textFramer) frame(chunk []byte) []byte {
	data := chunk
	if len(f.pending) > 0 {
		data = append(f.pending, chunk...)
		f.pending = nil
	}
	complete, rest := splitIncomplete(data)
	if len(rest) > 0 {
		f.pending = append([]byte(nil), rest...)
	}
	return bytes.ToValidUTF8(complete, []byte(string(utf8.RuneError)))
}

// flush returns whatever is still held back.
func (f *textFramer) flush() []byte {
	rest := f.pending
	f.pending = nil
	return bytes.ToValidUTF8(rest, []byte(string(utf8.RuneError)))
}

// splitIncomplete separates a trailing partial UTF-8 sequence from p.
func splitIncomplete(p []byte) (complete, rest []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		start := len(p) - i
		if !utf8.RuneStart(p[start]) {
			continue
		}
		if !utf8.FullRune(p[start:]) {
			return p[:start], p[start:]
		}
		break
	}
	return p, nil
}

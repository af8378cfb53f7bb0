package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/brianly1003/touchcore/internal/terminal"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var (
	attachURL   string
	attachToken string
)

// attachCmd connects the local tty to a server's terminal endpoint.
var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach this terminal to a touchcore shell",
	Long: `Open the remote shell of a running touchcore server in this terminal.

Keystrokes are sent as typed, and shell output is written as it arrives.
Press Ctrl-] to detach.

Example:
  touchcore attach
  touchcore attach --url ws://192.168.1.20:8000/terminal --token secret`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachURL, "url", "", "terminal websocket URL (default: derived from client.server_url)")
	attachCmd.Flags().StringVar(&attachToken, "token", "", "access token (default: client.token)")
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	endpoint := cfg.Client.TerminalURL()
	if attachURL != "" {
		endpoint = attachURL
	}
	fd := int(os.Stdin.Fd())
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		endpoint = withWindowSize(endpoint, cols, rows)
	}
	token := cfg.Client.Token
	if attachToken != "" {
		token = attachToken
	}

	logger := newClientLogger(os.Stderr, cfg.Logging.Level)
	view := terminal.NewView(terminal.SessionConfig{
		URL:              endpoint,
		Token:            token,
		HandshakeTimeout: 10 * time.Second,
		Logger:           logger,
	}, display{os.Stdout})

	ctx, cancel := signalContext()
	defer cancel()

	if err := view.Mount(ctx); err != nil {
		return err
	}
	defer view.Unmount()

	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() {
			_ = term.Restore(fd, oldState)
		}()
	}

	detached := make(chan struct{})
	go pumpInput(os.Stdin, view, detached)

	select {
	case <-view.Done():
		fmt.Fprint(os.Stderr, "\r\nsession closed\r\n")
	case <-detached:
		fmt.Fprint(os.Stderr, "\r\ndetached\r\n")
	case <-ctx.Done():
	}
	return nil
}

// inputSink is the part of terminal.View used by pumpInput.
type inputSink interface {
	Input(p []byte) error
}

// pumpInput forwards r to sink until the detach key or a read error.
// detached is closed on return.
func pumpInput(r io.Reader, sink inputSink, detached chan<- struct{}) {
	defer close(detached)
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk, detach := splitDetach(buf[:n])
			if len(chunk) > 0 {
				// A closed session is reported through View.Done.
				_ = sink.Input(chunk)
			}
			if detach {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// withWindowSize adds the initial cols/rows to the terminal URL. Sizes the
// server would reject are left out.
func withWindowSize(endpoint string, cols, rows int) string {
	if cols < 1 || rows < 1 || cols > 1000 || rows > 1000 {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("cols", strconv.Itoa(cols))
	q.Set("rows", strconv.Itoa(rows))
	u.RawQuery = q.Encode()
	return u.String()
}

// splitDetach returns the input up to the detach key and whether the key
// was present.
func splitDetach(p []byte) ([]byte, bool) {
	if i := bytes.IndexByte(p, detachKey); i >= 0 {
		return p[:i], true
	}
	return p, false
}

// display hides the Close method of the underlying writer so unmounting
// the view leaves stdout open.
type display struct {
	w io.Writer
}

func (d display) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

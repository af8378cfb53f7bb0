package terminal

import "errors"

// ErrUnsupported is returned where PTY shells are unavailable.
var ErrUnsupported = errors.New("pty shell is not supported on this platform")

// ShellConfig describes the shell spawned for each terminal connection.
type ShellConfig struct {
	Command string
	Args    []string
	Dir     string
	Cols    uint16
	Rows    uint16
	Env     []string
}

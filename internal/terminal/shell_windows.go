//go:build windows

package terminal

// Shell is a stub for Windows, which has no PTY support here.
type Shell struct{}

// StartShell always fails on Windows.
func StartShell(cfg ShellConfig) (*Shell, error) {
	return nil, ErrUnsupported
}

// DefaultShell returns cmd.exe.
func DefaultShell() string { return "cmd.exe" }

func (s *Shell) PID() int { return 0 }
func (s *Shell) Read(p []byte) (int, error) { return 0, ErrUnsupported }
func (s *Shell) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (s *Shell) Resize(cols, rows uint16) error { return ErrUnsupported }
func (s *Shell) Exited() <-chan struct{} { return nil }
func (s *Shell) Close() error { return nil }

//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog/log"
)

const (
	hangupWait    = 500 * time.Millisecond
	terminateWait = time.Second
)

// Shell is an interactive shell attached to a PTY.
type Shell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	exited    chan struct{}
}

// StartShell spawns the configured shell under a new PTY.
func StartShell(cfg ShellConfig) (*Shell, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultShell()
	}

	cmd := exec.Command(command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, cfg.Env...)

	size := &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows}
	if size.Cols == 0 {
		size.Cols = 80
	}
	if size.Rows == 0 {
		size.Rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	s := &Shell{
		cmd:    cmd,
		ptmx:   ptmx,
		exited: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(s.exited)
	}()

	log.Debug().
		Str("shell", command).
		Int("pid", cmd.Process.Pid).
		Uint16("cols", size.Cols).
		Uint16("rows", size.Rows).
		Msg("pty shell started")

	return s, nil
}

// DefaultShell returns $SHELL, falling back to /bin/bash.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// PID returns the shell's process id.
func (s *Shell) PID() int {
	return s.cmd.Process.Pid
}

// Read reads shell output. It returns an error once the shell has exited.
func (s *Shell) Read(p []byte) (int, error) {
	return s.ptmx.Read(p)
}

// Write writes input to the shell.
func (s *Shell) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

// Resize changes the PTY window size.
func (s *Shell) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Exited is closed when the shell process ends.
func (s *Shell) Exited() <-chan struct{} {
	return s.exited
}

// Close hangs up the terminal and reaps the shell. The PTY is closed and
// SIGHUP sent first; SIGTERM and then SIGKILL follow if the process lingers.
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ptmx.Close()
		if s.cmd.Process == nil {
			return
		}
		steps := []struct {
			sig  os.Signal
			wait time.Duration
		}{
			{syscall.SIGHUP, hangupWait},
			{syscall.SIGTERM, terminateWait},
		}
		for _, step := range steps {
			_ = s.cmd.Process.Signal(step.sig)
			select {
			case <-s.exited:
				return
			case <-time.After(step.wait):
			}
		}
		log.Debug().Int("pid", s.cmd.Process.Pid).Msg("shell ignored hangup, killing")
		_ = s.cmd.Process.Kill()
		<-s.exited
	})
	return err
}

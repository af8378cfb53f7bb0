package terminal

import (
	"context"
	"io"
	"sync"
)

// View owns the terminal session for one mounted terminal display. There is
// at most one live session per view; mounting again closes the previous one
// first so no channel is left orphaned.
type View struct {
	cfg     SessionConfig
	display io.Writer

	mu      sync.Mutex
	session *Session
}

// NewView creates an unmounted view that renders into display.
func NewView(cfg SessionConfig, display io.Writer) *View {
	return &View{cfg: cfg, display: display}
}

// Mount opens a fresh session. Any prior session is closed before the new
// channel is dialed. A failed open leaves the view holding a closed session;
// the notice is already on the display.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	prev := v.session
	s := NewSession(v.cfg, v.display)
	v.session = s
	v.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return s.Open(ctx)
}

// Input forwards locally captured input to the current session. Input with
// no open session is discarded.
func (v *View) Input(p []byte) error {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()

	if s == nil {
		return ErrNotOpen
	}
	return s.Send(p)
}

// State reports the current session's state, or StateIdle when unmounted.
func (v *View) State() State {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()

	if s == nil {
		return StateIdle
	}
	return s.State()
}

// Done returns the current session's done channel, or nil when unmounted.
func (v *View) Done() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return nil
	}
	return v.session.Done()
}

// Unmount closes the session synchronously and releases the display if it
// is closable.
func (v *View) Unmount() error {
	v.mu.Lock()
	s := v.session
	v.session = nil
	v.mu.Unlock()

	var err error
	if s != nil {
		err = s.Close()
	}
	if c, ok := v.display.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

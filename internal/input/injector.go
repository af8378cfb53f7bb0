// Package input drives the desktop pointer from remote pointer commands.
package input

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for the xdotool injector.
const (
	DefaultCommandTimeout = 2 * time.Second
	DefaultScreenCacheTTL = 30 * time.Second
)

// FallbackScreen is used when the display size cannot be determined.
var FallbackScreen = Size{Width: 1920, Height: 1080}

// Size is a screen resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Injector moves and clicks the desktop pointer.
type Injector interface {
	Move(ctx context.Context, x, y int) error
	Click(ctx context.Context, button int) error
	ScreenSize(ctx context.Context) Size
	Available() bool
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Xdotool injects pointer input on X11 through xdotool and reads the screen
// size from xdpyinfo.
type Xdotool struct {
	display  string
	timeout  time.Duration
	cacheTTL time.Duration
	run      runFunc
	lookPath func(string) (string, error)

	mu       sync.Mutex
	cached   Size
	cachedAt time.Time
}

// XdotoolOption configures an Xdotool.
type XdotoolOption func(*Xdotool)

// WithDisplay sets the X display (e.g. ":0"). Empty inherits $DISPLAY.
func WithDisplay(display string) XdotoolOption {
	return func(x *Xdotool) { x.display = display }
}

// WithCommandTimeout bounds each external command.
func WithCommandTimeout(d time.Duration) XdotoolOption {
	return func(x *Xdotool) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithScreenCacheTTL sets how long a detected screen size is reused.
func WithScreenCacheTTL(d time.Duration) XdotoolOption {
	return func(x *Xdotool) {
		if d > 0 {
			x.cacheTTL = d
		}
	}
}

// NewXdotool creates an xdotool injector.
func NewXdotool(opts ...XdotoolOption) *Xdotool {
	x := &Xdotool{
		timeout:  DefaultCommandTimeout,
		cacheTTL: DefaultScreenCacheTTL,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.run == nil {
		x.run = x.exec
	}
	return x
}

// Move moves the pointer to absolute screen coordinates.
func (x *Xdotool) Move(ctx context.Context, px, py int) error {
	if _, err := x.run(ctx, "xdotool", "mousemove", strconv.Itoa(px), strconv.Itoa(py)); err != nil {
		return fmt.Errorf("xdotool mousemove: %w", err)
	}
	return nil
}

// Click presses and releases a button (1 left, 2 middle, 3 right).
func (x *Xdotool) Click(ctx context.Context, button int) error {
	if _, err := x.run(ctx, "xdotool", "click", strconv.Itoa(button)); err != nil {
		return fmt.Errorf("xdotool click: %w", err)
	}
	return nil
}

// ScreenSize returns the display resolution, cached for the configured TTL.
// When detection fails FallbackScreen is returned and nothing is cached.
func (x *Xdotool) ScreenSize(ctx context.Context) Size {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.cachedAt.IsZero() && time.Since(x.cachedAt) < x.cacheTTL {
		return x.cached
	}

	out, err := x.run(ctx, "xdpyinfo")
	if err != nil {
		log.Warn().Err(err).Msg("failed to query screen size, using fallback")
		return FallbackScreen
	}
	size, ok := parseDimensions(out)
	if !ok {
		log.Warn().Msg("could not parse screen dimensions, using fallback")
		return FallbackScreen
	}

	x.cached = size
	x.cachedAt = time.Now()
	log.Debug().Int("width", size.Width).Int("height", size.Height).Msg("screen size detected")
	return size
}

// Available reports whether xdotool is on PATH.
func (x *Xdotool) Available() bool {
	_, err := x.lookPath("xdotool")
	return err == nil
}

func (x *Xdotool) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if x.display != "" {
		cmd.Env = append(os.Environ(), "DISPLAY="+x.display)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// parseDimensions finds "dimensions:    1920x1080 pixels (...)" in xdpyinfo
// output.
func parseDimensions(out []byte) (Size, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "dimensions:" {
			continue
		}
		w, h, found := strings.Cut(fields[1], "x")
		if !found {
			return Size{}, false
		}
		width, err1 := strconv.Atoi(w)
		height, err2 := strconv.Atoi(h)
		if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
			return Size{}, false
		}
		return Size{Width: width, Height: height}, true
	}
	return Size{}, false
}

package input

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrRateLimited is returned when an action exceeds a rate window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidButton is returned for buttons other than 1, 2 or 3.
	ErrInvalidButton = errors.New("invalid mouse button")
)

// EventRecorder receives an audit entry per applied action.
type EventRecorder interface {
	Record(ctx context.Context, kind, message string, fields map[string]any) error
}

// Action is one pointer command as received from a remote client. X and Y
// are optional; without both the pointer is not moved.
type Action struct {
	X      *int `json:"x"`
	Y      *int `json:"y"`
	Click  bool `json:"click"`
	Button int  `json:"button,omitempty"`
}

// ActionResult describes what was done for an Action.
type ActionResult struct {
	Status    string    `json:"status"`
	Action    string    `json:"action"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Moved     bool      `json:"moved"`
	Clicked   bool      `json:"clicked"`
	Button    int       `json:"button,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RateStats reports limiter usage.
type RateStats struct {
	ActionsLastSecond int `json:"actions_last_second"`
	ActionsLastMinute int `json:"actions_last_minute"`
	MaxPerSecond      int `json:"max_per_second"`
	MaxPerMinute      int `json:"max_per_minute"`
}

// Stats is the /mouse/stats payload.
type Stats struct {
	ScreenResolution Size            `json:"screen_resolution"`
	RateLimiting     RateStats       `json:"rate_limiting"`
	ToolsAvailable   map[string]bool `json:"tools_available"`
}

// ControllerConfig holds the action limits.
type ControllerConfig struct {
	MaxPerSecond int
	MaxPerMinute int
}

// Controller validates, rate-limits and applies pointer actions.
type Controller struct {
	injector Injector
	limiter  *RateLimiter
	audit    EventRecorder
	cfg      ControllerConfig
}

// NewController creates a controller. audit may be nil.
func NewController(injector Injector, cfg ControllerConfig, audit EventRecorder) *Controller {
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = DefaultMaxPerSecond
	}
	if cfg.MaxPerMinute <= 0 {
		cfg.MaxPerMinute = DefaultMaxPerMinute
	}
	return &Controller{
		injector: injector,
		limiter: NewRateLimiter(
			Limit{Max: cfg.MaxPerSecond, Window: time.Second},
			Limit{Max: cfg.MaxPerMinute, Window: time.Minute},
		),
		audit: audit,
		cfg:   cfg,
	}
}

// Apply performs one action. Coordinates are clamped to the screen.
func (c *Controller) Apply(ctx context.Context, a Action) (ActionResult, error) {
	button := a.Button
	if button == 0 {
		button = 1
	}
	if button < 1 || button > 3 {
		return ActionResult{}, fmt.Errorf("%w: %d", ErrInvalidButton, a.Button)
	}

	if !c.limiter.Allow() {
		log.Warn().Msg("mouse action rate limited")
		return ActionResult{}, ErrRateLimited
	}

	result := ActionResult{Status: "success", Action: "mouse_input"}

	if a.X != nil && a.Y != nil {
		size := c.injector.ScreenSize(ctx)
		x, y := Clamp(*a.X, *a.Y, size)
		if err := c.injector.Move(ctx, x, y); err != nil {
			return ActionResult{}, fmt.Errorf("move pointer to (%d, %d): %w", x, y, err)
		}
		result.X, result.Y, result.Moved = x, y, true
	}

	if a.Click {
		if err := c.injector.Click(ctx, button); err != nil {
			return ActionResult{}, fmt.Errorf("click button %d: %w", button, err)
		}
		result.Clicked = true
		result.Button = button
	}

	result.Timestamp = time.Now().UTC()

	log.Debug().
		Int("x", result.X).
		Int("y", result.Y).
		Bool("moved", result.Moved).
		Bool("clicked", result.Clicked).
		Msg("mouse action applied")

	if c.audit != nil {
		fields := map[string]any{"moved": result.Moved, "clicked": result.Clicked}
		if result.Moved {
			fields["x"], fields["y"] = result.X, result.Y
		}
		if result.Clicked {
			fields["button"] = button
		}
		if err := c.audit.Record(ctx, "mouse", "mouse action applied", fields); err != nil {
			log.Debug().Err(err).Msg("failed to record mouse action")
		}
	}

	return result, nil
}

// Stats reports the screen size, limiter usage and tool availability.
func (c *Controller) Stats(ctx context.Context) Stats {
	return Stats{
		ScreenResolution: c.injector.ScreenSize(ctx),
		RateLimiting: RateStats{
			ActionsLastSecond: c.limiter.Count(time.Second),
			ActionsLastMinute: c.limiter.Count(time.Minute),
			MaxPerSecond:      c.cfg.MaxPerSecond,
			MaxPerMinute:      c.cfg.MaxPerMinute,
		},
		ToolsAvailable: map[string]bool{"xdotool": c.injector.Available()},
	}
}

// Clamp confines a point to [0, width-1] x [0, height-1].
func Clamp(x, y int, size Size) (int, int) {
	return clampAxis(x, size.Width), clampAxis(y, size.Height)
}

func clampAxis(v, extent int) int {
	if v < 0 {
		return 0
	}
	if extent > 0 && v >= extent {
		return extent - 1
	}
	return v
}

package pointer

import (
	"context"
	"fmt"
	"strings"
)

// Phase is the touch lifecycle stage of an event.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseMove
	PhaseEnd
)

// String returns the DOM event name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "touchstart"
	case PhaseMove:
		return "touchmove"
	case PhaseEnd:
		return "touchend"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase accepts "start", "move", "end" or the DOM event names.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start", "touchstart":
		return PhaseStart, nil
	case "move", "touchmove":
		return PhaseMove, nil
	case "end", "touchend":
		return PhaseEnd, nil
	}
	return 0, fmt.Errorf("unknown touch phase %q", s)
}

// TouchEvent is one touch lifecycle event as delivered by the input system.
// Touches lists contacts still on the surface; ChangedTouches lists the
// contacts that changed in this event (the lifted ones for PhaseEnd).
type TouchEvent struct {
	Phase          Phase
	Touches        []TouchPoint
	ChangedTouches []TouchPoint
}

// Surface is a touch-capable screen element.
type Surface interface {
	// Bounds measures the surface's current on-screen rectangle.
	Bounds() SurfaceBounds
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func() SurfaceBounds

// Bounds implements Surface.
func (f SurfaceFunc) Bounds() SurfaceBounds { return f() }

// StaticSurface is a Surface whose rectangle never moves.
type StaticSurface SurfaceBounds

// Bounds implements Surface.
func (s StaticSurface) Bounds() SurfaceBounds { return SurfaceBounds(s) }

// CommandSink accepts pointer commands. *Dispatcher implements it.
type CommandSink interface {
	Dispatch(cmd Command) error
}

// Binder converts touch events on a surface into pointer commands.
//
// Only the first touch entry is used. Additional simultaneous contacts are
// ignored, so a multi-finger gesture drives a single pointer.
type Binder struct {
	surface Surface
	scale   float64
	sink    CommandSink
}

// NewBinder attaches a binder to surface. scale must be > 0; see ResolveScale.
func NewBinder(surface Surface, scale float64, sink CommandSink) *Binder {
	return &Binder{
		surface: surface,
		scale:   scale,
		sink:    sink,
	}
}

// Handle processes one event: pick the touch, measure bounds, transform,
// dispatch. It returns the command it produced, or false when the event
// carried no usable touch entry.
func (b *Binder) Handle(ev TouchEvent) (Command, bool) {
	touch, ok := primaryTouch(ev)
	if !ok {
		return Command{}, false
	}

	bounds := b.surface.Bounds()
	cmd := NewCommand(touch, bounds, b.scale, ev.Phase == PhaseEnd)

	// Dispatch failures are fire-and-forget.
	_ = b.sink.Dispatch(cmd)
	return cmd, true
}

// Run consumes events in arrival order until ctx is done or events closes.
// Events are neither reordered nor deduplicated.
func (b *Binder) Run(ctx context.Context, events <-chan TouchEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ev)
		}
	}
}

func primaryTouch(ev TouchEvent) (TouchPoint, bool) {
	list := ev.Touches
	if ev.Phase == PhaseEnd {
		list = ev.ChangedTouches
	}
	if len(list) == 0 {
		return TouchPoint{}, false
	}
	return list[0], true
}

// Package pointer turns touches on a remote screen surface into device-pixel
// pointer commands and relays them to the desktop's /mouse endpoint.
//
// Pipeline:
//
//	TouchEvent ──▶ Binder ──▶ Transform ──▶ Dispatcher ──▶ POST /mouse
//
// The Binder handles events one at a time in arrival order. The Dispatcher
// never blocks it: commands are queued and sent by a single worker, so they
// leave in touch order. Arrival order at the remote side is not guaranteed.
package pointer

import "math"

// TouchPoint is a raw touch position in the touch-reporting coordinate space.
type TouchPoint struct {
	ClientX float64 `json:"clientX" yaml:"x"`
	ClientY float64 `json:"clientY" yaml:"y"`
}

// SurfaceBounds is the on-screen rectangle of the target surface at the
// moment of an event. It must be measured per event, never cached.
type SurfaceBounds struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Command is a single pointer event in device-pixel space relative to the
// surface origin. Click is set only for touch-end.
type Command struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	Click bool `json:"click"`
}

// Transform maps a touch point into device-pixel coordinates:
//
//	x = round((touch.ClientX - bounds.Left) * scale)
//	y = round((touch.ClientY - bounds.Top)  * scale)
//
// Rounding is half away from zero (math.Round), so 0.5 → 1 and -0.5 → -1.
// Results are not clamped; a touch outside the surface yields negative or
// oversized coordinates and the remote endpoint clamps to its own screen.
func Transform(touch TouchPoint, bounds SurfaceBounds, scale float64) (x, y int) {
	x = int(math.Round((touch.ClientX - bounds.Left) * scale))
	y = int(math.Round((touch.ClientY - bounds.Top) * scale))
	return x, y
}

// NewCommand builds the command for one touch event.
func NewCommand(touch TouchPoint, bounds SurfaceBounds, scale float64, click bool) Command {
	x, y := Transform(touch, bounds, scale)
	return Command{X: x, Y: y, Click: click}
}

// ResolveScale picks the scale factor: an explicit configured value wins,
// then the device pixel ratio, then 1. The result is always > 0.
func ResolveScale(configured, devicePixelRatio float64) float64 {
	if configured > 0 && !math.IsInf(configured, 0) {
		return configured
	}
	if devicePixelRatio > 0 && !math.IsInf(devicePixelRatio, 0) {
		return devicePixelRatio
	}
	return 1
}

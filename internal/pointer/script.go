package pointer

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is a recorded gesture: a surface, an optional scale, and the touch
// events in the order they occurred.
//
//	surface: {left: 10, top: 10, width: 390, height: 844}
//	scale: 2
//	events:
//	  - phase: start
//	    touches: [{x: 110, y: 210}]
//	  - phase: end
//	    changed: [{x: 110, y: 210}]
//	    delay_ms: 40
type Script struct {
	Surface SurfaceBounds `yaml:"surface"`
	Scale   float64       `yaml:"scale"`
	Events  []ScriptEvent `yaml:"events"`
}

// ScriptEvent is one entry of a Script.
type ScriptEvent struct {
	Phase   string       `yaml:"phase"`
	Touches []TouchPoint `yaml:"touches"`
	Changed []TouchPoint `yaml:"changed"`
	DelayMS int          `yaml:"delay_ms"`
}

// LoadScript decodes a YAML gesture script.
func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode gesture script: %w", err)
	}
	for i, ev := range s.Events {
		if _, err := ParsePhase(ev.Phase); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return &s, nil
}

// Play feeds the script's events into a channel, honouring delays, and
// closes it when done or when ctx is cancelled.
func (s *Script) Play(ctx context.Context) <-chan TouchEvent {
	out := make(chan TouchEvent)
	go func() {
		defer close(out)
		for _, ev := range s.Events {
			if ev.DelayMS > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(ev.DelayMS) * time.Millisecond):
				}
			}
			phase, _ := ParsePhase(ev.Phase)
			changed := ev.Changed
			if phase == PhaseEnd && len(changed) == 0 {
				changed = ev.Touches
			}
			te := TouchEvent{Phase: phase, Touches: ev.Touches, ChangedTouches: changed}
			select {
			case <-ctx.Done():
				return
			case out <- te:
			}
		}
	}()
	return out
}

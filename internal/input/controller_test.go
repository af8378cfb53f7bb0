package input

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeInjector struct {
	size      Size
	moves     [][2]int
	clicks    []int
	moveErr   error
	available bool
}

func (f *fakeInjector) Move(_ context.Context, x, y int) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, [2]int{x, y})
	return nil
}

func (f *fakeInjector) Click(_ context.Context, button int) error {
	f.clicks = append(f.clicks, button)
	return nil
}

func (f *fakeInjector) ScreenSize(context.Context) Size { return f.size }

func (f *fakeInjector) Available() bool { return f.available }

type auditEntry struct {
	kind   string
	fields map[string]any
}

type fakeAudit struct{ entries []auditEntry }

func (a *fakeAudit) Record(_ context.Context, kind, _ string, fields map[string]any) error {
	a.entries = append(a.entries, auditEntry{kind: kind, fields: fields})
	return nil
}

func intp(v int) *int { return &v }

func TestController_Apply(t *testing.T) {
	tests := []struct {
		name       string
		action     Action
		wantMoves  [][2]int
		wantClicks []int
		wantResult ActionResult
	}{
		{
			name:       "move only",
			action:     Action{X: intp(200), Y: intp(400)},
			wantMoves:  [][2]int{{200, 400}},
			wantResult: ActionResult{Status: "success", Action: "mouse_input", X: 200, Y: 400, Moved: true},
		},
		{
			name:       "move and click",
			action:     Action{X: intp(200), Y: intp(400), Click: true},
			wantMoves:  [][2]int{{200, 400}},
			wantClicks: []int{1},
			wantResult: ActionResult{Status: "success", Action: "mouse_input", X: 200, Y: 400, Moved: true, Clicked: true, Button: 1},
		},
		{
			name:       "click without coordinates",
			action:     Action{Click: true, Button: 3},
			wantClicks: []int{3},
			wantResult: ActionResult{Status: "success", Action: "mouse_input", Clicked: true, Button: 3},
		},
		{
			name:       "clamped past the screen edge",
			action:     Action{X: intp(5000), Y: intp(-20)},
			wantMoves:  [][2]int{{1919, 0}},
			wantResult: ActionResult{Status: "success", Action: "mouse_input", X: 1919, Y: 0, Moved: true},
		},
		{
			name:       "only one coordinate skips the move",
			action:     Action{X: intp(10)},
			wantResult: ActionResult{Status: "success", Action: "mouse_input"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inj := &fakeInjector{size: Size{1920, 1080}}
			c := NewController(inj, ControllerConfig{}, nil)

			got, err := c.Apply(context.Background(), tt.action)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
			got.Timestamp = tt.wantResult.Timestamp
			if got != tt.wantResult {
				t.Errorf("result = %+v, want %+v", got, tt.wantResult)
			}
			if len(inj.moves) != len(tt.wantMoves) {
				t.Fatalf("moves = %v, want %v", inj.moves, tt.wantMoves)
			}
			for i := range tt.wantMoves {
				if inj.moves[i] != tt.wantMoves[i] {
					t.Errorf("move %d = %v, want %v", i, inj.moves[i], tt.wantMoves[i])
				}
			}
			if len(inj.clicks) != len(tt.wantClicks) {
				t.Errorf("clicks = %v, want %v", inj.clicks, tt.wantClicks)
			}
		})
	}
}

func TestActionResult_OriginCoordinatesSerialized(t *testing.T) {
	inj := &fakeInjector{size: Size{1920, 1080}}
	c := NewController(inj, ControllerConfig{}, nil)

	got, err := c.Apply(context.Background(), Action{X: intp(0), Y: intp(0)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"x":0`, `"y":0`, `"moved":true`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("result %s missing %s", raw, want)
		}
	}
}

func TestController_InvalidButton(t *testing.T) {
	inj := &fakeInjector{size: Size{1920, 1080}}
	c := NewController(inj, ControllerConfig{}, nil)

	for _, b := range []int{-1, 4, 9} {
		_, err := c.Apply(context.Background(), Action{Click: true, Button: b})
		if !errors.Is(err, ErrInvalidButton) {
			t.Errorf("button %d: err = %v, want ErrInvalidButton", b, err)
		}
	}
	if len(inj.clicks) != 0 {
		t.Errorf("clicks = %v, want none", inj.clicks)
	}
	if c.limiter.Count(time.Minute) != 0 {
		t.Error("invalid actions consumed rate budget")
	}
}

func TestController_RateLimited(t *testing.T) {
	inj := &fakeInjector{size: Size{1920, 1080}}
	c := NewController(inj, ControllerConfig{MaxPerSecond: 2, MaxPerMinute: 100}, nil)

	for i := 0; i < 2; i++ {
		if _, err := c.Apply(context.Background(), Action{X: intp(1), Y: intp(1)}); err != nil {
			t.Fatalf("action %d: %v", i, err)
		}
	}
	if _, err := c.Apply(context.Background(), Action{X: intp(1), Y: intp(1)}); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third action err = %v, want ErrRateLimited", err)
	}
	if len(inj.moves) != 2 {
		t.Errorf("moves = %d, want 2", len(inj.moves))
	}
}

func TestController_MoveFailure(t *testing.T) {
	inj := &fakeInjector{size: Size{1920, 1080}, moveErr: errors.New("no display")}
	audit := &fakeAudit{}
	c := NewController(inj, ControllerConfig{}, audit)

	if _, err := c.Apply(context.Background(), Action{X: intp(1), Y: intp(1), Click: true}); err == nil {
		t.Fatal("Apply succeeded with a failing injector")
	}
	if len(inj.clicks) != 0 {
		t.Error("clicked after a failed move")
	}
	if len(audit.entries) != 0 {
		t.Error("failed action was audited")
	}
}

func TestController_RecordsAudit(t *testing.T) {
	audit := &fakeAudit{}
	c := NewController(&fakeInjector{size: Size{800, 600}}, ControllerConfig{}, audit)

	if _, err := c.Apply(context.Background(), Action{X: intp(10), Y: intp(20), Click: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	e := audit.entries[0]
	if e.kind != "mouse" || e.fields["x"] != 10 || e.fields["y"] != 20 || e.fields["button"] != 1 {
		t.Errorf("audit entry = %+v", e)
	}
}

func TestController_Stats(t *testing.T) {
	inj := &fakeInjector{size: Size{1280, 720}, available: true}
	c := NewController(inj, ControllerConfig{}, nil)
	_, _ = c.Apply(context.Background(), Action{Click: true})

	s := c.Stats(context.Background())
	if s.ScreenResolution != (Size{1280, 720}) {
		t.Errorf("ScreenResolution = %v", s.ScreenResolution)
	}
	if s.RateLimiting.ActionsLastMinute != 1 || s.RateLimiting.ActionsLastSecond != 1 {
		t.Errorf("RateLimiting = %+v", s.RateLimiting)
	}
	if s.RateLimiting.MaxPerSecond != DefaultMaxPerSecond || s.RateLimiting.MaxPerMinute != DefaultMaxPerMinute {
		t.Errorf("limits = %+v", s.RateLimiting)
	}
	if !s.ToolsAvailable["xdotool"] {
		t.Error("xdotool should be reported available")
	}
}

func TestClamp(t *testing.T) {
	size := Size{Width: 100, Height: 50}
	tests := []struct {
		x, y, wantX, wantY int
	}{
		{10, 10, 10, 10},
		{-5, -5, 0, 0},
		{100, 50, 99, 49},
		{99, 49, 99, 49},
	}
	for _, tt := range tests {
		x, y := Clamp(tt.x, tt.y, size)
		if x != tt.wantX || y != tt.wantY {
			t.Errorf("Clamp(%d, %d) = (%d, %d), want (%d, %d)", tt.x, tt.y, x, y, tt.wantX, tt.wantY)
		}
	}
}

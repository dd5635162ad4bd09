package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/status"
)

func TestButtonPressDispatchesAction(t *testing.T) {
	rg := newRig(t)
	in := rg.button(4, ms(20), press(ms(100), ms(300))...)
	p := player.NewFake()
	sink := &recordingSink{}
	tr := status.NewTracker(start, status.Config{})

	b := NewButton(ButtonConfig{Name: "play-pause", Action: ActionTogglePause, ActiveLow: true}, in, p, rg.clock)
	stop := startTask(t, b, NewReporter("play-pause", tr, sink, nil, rg.clock))
	waitFor(t, "virtual 2s", func() bool { return rg.elapsed() > 2*time.Second })
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := strings.Join(p.Calls(), "|"); got != "toggle" {
		t.Errorf("calls: got %q, want toggle", got)
	}
	if p.Snapshot().State != player.StatePlay {
		t.Errorf("player state: got %q, want play", p.Snapshot().State)
	}
	if sink.count(logic.EventPress) != 1 {
		t.Errorf("press events: got %d, want 1", sink.count(logic.EventPress))
	}
	c, _ := tr.Snapshot().Control("play-pause")
	if c.Dispatches != 1 {
		t.Errorf("tracker dispatches: got %d, want 1", c.Dispatches)
	}
}

func TestButtonHundredBouncesOneDispatch(t *testing.T) {
	rg := newRig(t)
	var script []gpio.Transition
	for i := 0; i < 100; i++ {
		script = append(script, gpio.Transition{At: ms(100) + time.Duration(i)*100*time.Microsecond, Value: i % 2})
	}
	script = append(script,
		gpio.Transition{At: ms(111), Value: 0},
		gpio.Transition{At: ms(2000), Value: 1},
	)
	in := rg.button(4, ms(20), script...)
	p := player.NewFake()

	b := NewButton(ButtonConfig{Name: "play-pause", Action: ActionTogglePause, ActiveLow: true}, in, p, rg.clock)
	stop := startTask(t, b, NewReporter("play-pause", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 3s", func() bool { return rg.elapsed() > 3*time.Second })
	stop()

	if n := len(p.Calls()); n != 1 {
		t.Errorf("dispatches: got %d, want 1", n)
	}
	if p.MaxInFlight() > 1 {
		t.Errorf("max in flight: got %d, want 1", p.MaxInFlight())
	}
}

func TestButtonReleaseDoesNotDispatch(t *testing.T) {
	rg := newRig(t)
	in := rg.button(4, ms(20), press(ms(100), ms(300))...)
	p := player.NewFake()

	// Active high: the low pulse is a release followed by a press.
	b := NewButton(ButtonConfig{Name: "shuffle", Action: ActionShuffle}, in, p, rg.clock)
	stop := startTask(t, b, NewReporter("shuffle", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 2s", func() bool { return rg.elapsed() > 2*time.Second })
	stop()

	if got := strings.Join(p.Calls(), "|"); got != "shuffle" {
		t.Errorf("calls: got %q, want one shuffle on the rising edge", got)
	}
}

func TestButtonHoldOff(t *testing.T) {
	rg := newRig(t)
	var script []gpio.Transition
	script = append(script, press(ms(100), ms(50))...)
	script = append(script, press(ms(300), ms(50))...)
	script = append(script, press(ms(1500), ms(50))...)
	in := rg.button(4, ms(20), script...)
	p := player.NewFake()

	b := NewButton(ButtonConfig{Name: "play-pause", Action: ActionTogglePause, ActiveLow: true, HoldOff: time.Second}, in, p, rg.clock)
	stop := startTask(t, b, NewReporter("play-pause", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 3s", func() bool { return rg.elapsed() > 3*time.Second })
	stop()

	if got := strings.Join(p.Calls(), "|"); got != "toggle|toggle" {
		t.Errorf("calls: got %q, want two toggles", got)
	}
}

func TestButtonSurvivesUnreachablePlayer(t *testing.T) {
	rg := newRig(t)
	var script []gpio.Transition
	script = append(script, press(ms(100), ms(100))...)
	script = append(script, press(ms(600), ms(100))...)
	in := rg.button(4, ms(20), script...)
	p := player.NewFake()
	p.SetReachable(false)
	tr := status.NewTracker(start, status.Config{})

	b := NewButton(ButtonConfig{Name: "play-pause", Action: ActionTogglePause, ActiveLow: true}, in, p, rg.clock)
	stop := startTask(t, b, NewReporter("play-pause", tr, nil, nil, rg.clock))
	waitFor(t, "virtual 2s", func() bool { return rg.elapsed() > 2*time.Second })
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p.Attempts() != 2 {
		t.Errorf("attempts: got %d, want 2", p.Attempts())
	}
	c, _ := tr.Snapshot().Control("play-pause")
	if c.Errors != 2 {
		t.Errorf("errors: got %d, want 2", c.Errors)
	}
	if !strings.Contains(c.LastError, "unreachable") {
		t.Errorf("last error: got %q", c.LastError)
	}
}

func TestButtonHardwareLost(t *testing.T) {
	rg := newRig(t)
	in := rg.button(4, ms(20))
	rg.chip.Line(4).Lose()

	b := NewButton(ButtonConfig{Name: "play-pause", Action: ActionTogglePause, ActiveLow: true}, in, player.NewFake(), rg.clock)
	err := b.Run(context.Background(), NewReporter("play-pause", nil, nil, nil, rg.clock))
	if !errors.Is(err, gpio.ErrHardwareLost) {
		t.Errorf("got %v, want ErrHardwareLost", err)
	}
}

type recordingRunner struct {
	mu   sync.Mutex
	runs [][]string
}

func (r *recordingRunner) run(_ context.Context, argv []string) error {
	r.mu.Lock()
	r.runs = append(r.runs, argv)
	r.mu.Unlock()
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func TestButtonLongPress(t *testing.T) {
	tests := []struct {
		name string
		hold time.Duration
		want int
	}{
		{"held", 4 * time.Second, 1},
		{"short", ms(500), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg := newRig(t)
			in := rg.button(26, ms(20), press(ms(100), tt.hold)...)
			runner := &recordingRunner{}
			sink := &recordingSink{}

			b := NewButton(ButtonConfig{
				Name:      "power",
				ActiveLow: true,
				LongPress: LongPress{Hold: 3 * time.Second, Command: []string{"shutdown", "-h", "now"}},
			}, in, player.NewFake(), rg.clock)
			b.SetRunner(runner.run)
			stop := startTask(t, b, NewReporter("power", nil, sink, nil, rg.clock))
			waitFor(t, "virtual 6s", func() bool { return rg.elapsed() > 6*time.Second })
			stop()

			if runner.count() != tt.want {
				t.Errorf("runs: got %d, want %d", runner.count(), tt.want)
			}
			if sink.count(logic.EventLongPress) != tt.want {
				t.Errorf("long-press events: got %d, want %d", sink.count(logic.EventLongPress), tt.want)
			}
		})
	}
}

func TestButtonShortPressWithLongPressConfigured(t *testing.T) {
	rg := newRig(t)
	in := rg.button(4, ms(20), press(ms(100), ms(200))...)
	runner := &recordingRunner{}
	sink := &recordingSink{}
	p := player.NewFake()

	b := NewButton(ButtonConfig{
		Name:      "play-pause",
		Action:    ActionTogglePause,
		ActiveLow: true,
		LongPress: LongPress{Hold: 3 * time.Second, Command: []string{"reboot"}},
	}, in, p, rg.clock)
	b.SetRunner(runner.run)
	stop := startTask(t, b, NewReporter("play-pause", nil, sink, nil, rg.clock))
	waitFor(t, "virtual 6s", func() bool { return rg.elapsed() > 6*time.Second })
	stop()

	if got := strings.Join(p.Calls(), "|"); got != "toggle" {
		t.Errorf("calls: got %q, want toggle", got)
	}
	if runner.count() != 0 {
		t.Errorf("long-press command ran %d times", runner.count())
	}
	var dispatched time.Time
	for _, ev := range sink.Events() {
		if ev.Kind == logic.EventDispatch {
			dispatched = ev.Timestamp
		}
	}
	// Released at 300ms; with a 3s window and an 80% threshold the outcome
	// is known 600ms later, long before the window ends.
	if got := dispatched.Sub(start); got > ms(1200) {
		t.Errorf("dispatch at %v, want before 1.2s", got)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"toggle-pause", ActionTogglePause, false},
		{"Next", ActionNext, false},
		{"none", ActionNone, false},
		{"", ActionNone, false},
		{"eject", ActionNone, true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) error: got %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestActionDo(t *testing.T) {
	p := player.NewFake()
	p.SetStatus(player.Status{State: player.StatePlay, Song: 0, PlaylistLength: 3})
	ctx := context.Background()
	for _, a := range []Action{ActionPause, ActionPlay, ActionNext, ActionPrevious, ActionShuffle, ActionNone} {
		if err := a.Do(ctx, p); err != nil {
			t.Errorf("%q: %v", a, err)
		}
	}
	if got := strings.Join(p.Calls(), "|"); got != "pause|play|next|previous|shuffle" {
		t.Errorf("calls: got %q", got)
	}
}

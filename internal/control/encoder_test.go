package control

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/quadrature"
	"github.com/sweeney/westinghouse/internal/status"
)

const (
	pinA = 23
	pinB = 24
)

// clicks scripts one detent every 100ms. Forward clicks set B to the
// opposite of the new A just before A moves; backward clicks set it equal.
func clicks(rg *rig, dirs ...logic.Direction) {
	var sa, sb []gpio.Transition
	a := 0
	for i, d := range dirs {
		at := time.Duration(i+1) * ms(100)
		a = 1 - a
		b := a
		if d == logic.Forward {
			b = 1 - a
		}
		sb = append(sb, gpio.Transition{At: at - ms(5), Value: b})
		sa = append(sa, gpio.Transition{At: at, Value: a})
	}
	rg.chip.Line(pinA).Set(0)
	rg.chip.Line(pinB).Set(0)
	rg.chip.Line(pinA).Script(sa...)
	rg.chip.Line(pinB).Script(sb...)
}

func (r *rig) encoder(cfg quadrature.Config) *quadrature.Encoder {
	r.t.Helper()
	phase := func(pin int) *debounce.Input {
		h, err := gpio.Acquire(r.chip, pin, gpio.LineConfig{Direction: gpio.Input, Bias: gpio.BiasPullUp})
		if err != nil {
			r.t.Fatalf("Acquire %d: %v", pin, err)
		}
		in, err := debounce.New(h, debounce.Config{}, r.clock)
		if err != nil {
			r.t.Fatalf("debounce.New %d: %v", pin, err)
		}
		return in
	}
	if cfg.Interval == 0 {
		cfg.Interval = ms(1)
	}
	return quadrature.New(phase(pinA), phase(pinB), cfg, r.clock)
}

func repeat(d logic.Direction, n int) []logic.Direction {
	out := make([]logic.Direction, n)
	for i := range out {
		out[i] = d
	}
	return out
}

func TestVolumeKnobFiveClicks(t *testing.T) {
	rg := newRig(t)
	clicks(rg, repeat(logic.Forward, 5)...)
	enc := rg.encoder(quadrature.Config{Bounds: &logic.Bounds{Min: 0, Max: 50}})
	p := player.NewFake()
	p.SetStatus(player.Status{State: player.StatePlay, Volume: 20, Song: 0, PlaylistLength: 1})
	sink := &recordingSink{}

	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeVolume}, enc, p)
	stop := startTask(t, task, NewReporter("volume", nil, sink, nil, rg.clock))
	waitFor(t, "virtual 1s", func() bool { return rg.elapsed() > time.Second })
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "setvol 21|setvol 22|setvol 23|setvol 24|setvol 25"
	if got := strings.Join(p.Calls(), "|"); got != want {
		t.Errorf("calls: got %q, want %q", got, want)
	}
	if sink.count(logic.EventStep) != 5 {
		t.Errorf("step events: got %d, want 5", sink.count(logic.EventStep))
	}
}

func TestVolumeKnobClampsAtBound(t *testing.T) {
	rg := newRig(t)
	clicks(rg, repeat(logic.Forward, 4)...)
	enc := rg.encoder(quadrature.Config{Bounds: &logic.Bounds{Min: 0, Max: 50}})
	p := player.NewFake()
	p.SetStatus(player.Status{Volume: 48})

	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeVolume}, enc, p)
	stop := startTask(t, task, NewReporter("volume", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 1s", func() bool { return rg.elapsed() > time.Second })
	stop()

	if got := strings.Join(p.Calls(), "|"); got != "setvol 49|setvol 50" {
		t.Errorf("calls: got %q", got)
	}
}

func TestVolumeKnobReversed(t *testing.T) {
	rg := newRig(t)
	clicks(rg, repeat(logic.Forward, 3)...)
	enc := rg.encoder(quadrature.Config{Bounds: &logic.Bounds{Min: 0, Max: 100}, Reverse: true})
	p := player.NewFake()
	p.SetStatus(player.Status{Volume: 20})

	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeVolume}, enc, p)
	stop := startTask(t, task, NewReporter("volume", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 1s", func() bool { return rg.elapsed() > time.Second })
	stop()

	if got := strings.Join(p.Calls(), "|"); got != "setvol 19|setvol 18|setvol 17" {
		t.Errorf("calls: got %q", got)
	}
}

func TestVolumeKnobFollowsOtherClients(t *testing.T) {
	rg := newRig(t)
	enc := rg.encoder(quadrature.Config{Bounds: &logic.Bounds{Min: 0, Max: 100}})
	p := player.NewFake()
	p.SetStatus(player.Status{Volume: 20})
	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeVolume}, enc, p)
	r := NewReporter("volume", nil, nil, nil, rg.clock)
	ctx := context.Background()

	task.stepVolume(ctx, r, logic.Forward)
	// Another client turns the volume up between clicks.
	p.SetStatus(player.Status{Volume: 45})
	task.stepVolume(ctx, r, logic.Forward)
	task.stepVolume(ctx, r, logic.Backward)

	if got := strings.Join(p.Calls(), "|"); got != "setvol 21|setvol 46|setvol 45" {
		t.Errorf("calls: got %q", got)
	}
	if enc.Counter() != 45 {
		t.Errorf("counter: got %d, want 45", enc.Counter())
	}
}

func TestVolumeKnobAfterOutage(t *testing.T) {
	rg := newRig(t)
	enc := rg.encoder(quadrature.Config{Bounds: &logic.Bounds{Min: 0, Max: 100}, Initial: 10})
	p := player.NewFake()
	p.SetStatus(player.Status{Volume: 40})
	p.SetReachable(false)
	tr := status.NewTracker(start, status.Config{})
	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeVolume}, enc, p)
	r := NewReporter("volume", tr, nil, nil, rg.clock)
	ctx := context.Background()

	task.stepVolume(ctx, r, logic.Forward)
	if c, _ := tr.Snapshot().Control("volume"); c.Errors != 1 {
		t.Errorf("dispatch errors while unreachable: got %d, want 1", c.Errors)
	}
	if len(p.Calls()) != 0 {
		t.Errorf("calls while unreachable: %v", p.Calls())
	}

	p.SetReachable(true)
	task.stepVolume(ctx, r, logic.Forward)
	task.stepVolume(ctx, r, logic.Forward)
	if got := strings.Join(p.Calls(), "|"); got != "setvol 41|setvol 42" {
		t.Errorf("calls: got %q", got)
	}
}

func TestTrackKnob(t *testing.T) {
	rg := newRig(t)
	clicks(rg, logic.Forward, logic.Forward, logic.Backward)
	enc := rg.encoder(quadrature.Config{})
	p := player.NewFake()
	p.SetStatus(player.Status{State: player.StatePlay, Song: 0, PlaylistLength: 2})

	task := NewEncoder(EncoderConfig{Name: "track", Mode: ModeTrack}, enc, p)
	stop := startTask(t, task, NewReporter("track", nil, nil, nil, rg.clock))
	waitFor(t, "virtual 1s", func() bool { return rg.elapsed() > time.Second })
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The second forward step is at the end of the queue and is skipped.
	if got := strings.Join(p.Calls(), "|"); got != "next|previous" {
		t.Errorf("calls: got %q, want next|previous", got)
	}
}

func TestEncoderHardwareLost(t *testing.T) {
	rg := newRig(t)
	enc := rg.encoder(quadrature.Config{})
	rg.chip.Line(pinA).Lose()

	task := NewEncoder(EncoderConfig{Name: "volume", Mode: ModeTrack}, enc, player.NewFake())
	err := task.Run(context.Background(), NewReporter("volume", nil, nil, nil, rg.clock))
	if !errors.Is(err, gpio.ErrHardwareLost) {
		t.Errorf("got %v, want ErrHardwareLost", err)
	}
}

func TestParseModes(t *testing.T) {
	if m, err := ParseEncoderMode("track"); err != nil || m != ModeTrack {
		t.Errorf("ParseEncoderMode: got %q, %v", m, err)
	}
	if _, err := ParseEncoderMode("balance"); err == nil {
		t.Error("expected error for unknown encoder mode")
	}
	if m, err := ParseLampMode("playing"); err != nil || m != ModePlaying {
		t.Errorf("ParseLampMode: got %q, %v", m, err)
	}
	if _, err := ParseLampMode("disco"); err == nil {
		t.Error("expected error for unknown lamp mode")
	}
}

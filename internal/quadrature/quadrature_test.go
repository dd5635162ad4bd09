package quadrature

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
)

const (
	pinA = 23
	pinB = 24
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newEncoder(t *testing.T, cfg Config) (*Encoder, *gpio.FakeChip, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(start)
	chip := gpio.NewFakeChip(28, clk)
	phase := func(pin int) *debounce.Input {
		h, err := gpio.Acquire(chip, pin, gpio.LineConfig{Direction: gpio.Input, Bias: gpio.BiasPullUp})
		if err != nil {
			t.Fatalf("Acquire %d: %v", pin, err)
		}
		in, err := debounce.New(h, debounce.Config{}, clk)
		if err != nil {
			t.Fatalf("debounce.New %d: %v", pin, err)
		}
		return in
	}
	enc := New(phase(pinA), phase(pinB), cfg, clk)
	t.Cleanup(func() { enc.Close() })
	return enc, chip, clk
}

func TestSingleStepScenario(t *testing.T) {
	enc, chip, _ := newEncoder(t, Config{})

	// A=0,B=0 -> A=1,B=0 -> A=1,B=1
	steps := []struct{ a, b int }{{1, 0}, {1, 1}}
	var got []logic.Direction
	for _, s := range steps {
		chip.Line(pinA).Set(s.a)
		chip.Line(pinB).Set(s.b)
		dir, err := enc.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if dir != logic.None {
			got = append(got, dir)
		}
	}

	if len(got) != 1 || got[0] != logic.Forward {
		t.Errorf("events: got %v, want [forward]", got)
	}
	if enc.Counter() != 1 {
		t.Errorf("counter: got %d, want 1", enc.Counter())
	}
}

func TestIdlePollNoEvent(t *testing.T) {
	enc, _, _ := newEncoder(t, Config{Initial: 7})
	for i := 0; i < 10; i++ {
		dir, err := enc.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if dir != logic.None {
			t.Fatalf("poll %d: got %v, want none", i, dir)
		}
	}
	if enc.Counter() != 7 {
		t.Errorf("counter: got %d, want 7", enc.Counter())
	}
}

func TestBackwardStep(t *testing.T) {
	enc, chip, _ := newEncoder(t, Config{})
	chip.Line(pinA).Set(1)
	chip.Line(pinB).Set(1)

	dir, err := enc.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if dir != logic.Backward {
		t.Errorf("got %v, want backward", dir)
	}
	if enc.Counter() != -1 {
		t.Errorf("counter: got %d, want -1", enc.Counter())
	}
}

func TestVolumeClicksBounded(t *testing.T) {
	enc, chip, _ := newEncoder(t, Config{Initial: 20, Bounds: &logic.Bounds{Min: 0, Max: 50}})

	// Each forward click toggles A with B left low then matching the old A.
	a, b := 0, 0
	var counters []int
	for i := 0; i < 5; i++ {
		a = 1 - a
		b = 1 - a
		chip.Line(pinB).Set(b)
		chip.Line(pinA).Set(a)
		dir, err := enc.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if dir != logic.Forward {
			t.Fatalf("click %d: got %v, want forward", i, dir)
		}
		counters = append(counters, enc.Counter())
	}

	want := []int{21, 22, 23, 24, 25}
	for i := range want {
		if counters[i] != want[i] {
			t.Errorf("click %d: got %d, want %d", i, counters[i], want[i])
		}
	}
}

func TestNextWaitsForStep(t *testing.T) {
	enc, chip, clk := newEncoder(t, Config{Interval: 10 * time.Millisecond})
	chip.Line(pinA).Script(gpio.Transition{At: 95 * time.Millisecond, Value: 1})

	dir, err := enc.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dir != logic.Forward {
		t.Errorf("got %v, want forward", dir)
	}
	if got := clk.Now().Sub(start); got != 100*time.Millisecond {
		t.Errorf("decoded at %v, want 100ms", got)
	}
}

func TestNextCancelled(t *testing.T) {
	enc, _, _ := newEncoder(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := enc.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestHardwareLost(t *testing.T) {
	enc, chip, _ := newEncoder(t, Config{})
	chip.Line(pinB).Lose()
	if _, err := enc.Poll(); !errors.Is(err, gpio.ErrHardwareLost) {
		t.Errorf("got %v, want ErrHardwareLost", err)
	}
}

func TestSetCounterAppliesBounds(t *testing.T) {
	enc, _, _ := newEncoder(t, Config{Bounds: &logic.Bounds{Min: 0, Max: 100}})
	enc.SetCounter(150)
	if enc.Counter() != 100 {
		t.Errorf("got %d, want 100", enc.Counter())
	}
}

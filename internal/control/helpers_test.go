package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/relay"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// rig is a fake chip and clock shared by the pieces of one test.
type rig struct {
	t     *testing.T
	clock *clock.Fake
	chip  *gpio.FakeChip
}

func newRig(t *testing.T) *rig {
	clk := clock.NewFake(start)
	return &rig{t: t, clock: clk, chip: gpio.NewFakeChip(28, clk)}
}

// elapsed returns virtual time since start.
func (r *rig) elapsed() time.Duration { return r.clock.Now().Sub(start) }

// button returns a pulled-up input (idle high) following script.
func (r *rig) button(pin int, window time.Duration, script ...gpio.Transition) *debounce.Input {
	r.t.Helper()
	line := r.chip.Line(pin)
	line.Set(1)
	line.Script(script...)
	h, err := gpio.Acquire(r.chip, pin, gpio.LineConfig{Direction: gpio.Input, Bias: gpio.BiasPullUp})
	if err != nil {
		r.t.Fatalf("Acquire %d: %v", pin, err)
	}
	in, err := debounce.New(h, debounce.Config{Window: window, Sample: ms(1)}, r.clock)
	if err != nil {
		r.t.Fatalf("debounce.New %d: %v", pin, err)
	}
	return in
}

// lamp returns a normally-open relay that starts off.
func (r *rig) lamp(pin int) *relay.Relay {
	r.t.Helper()
	h, err := gpio.Acquire(r.chip, pin, gpio.LineConfig{Direction: gpio.Output})
	if err != nil {
		r.t.Fatalf("Acquire %d: %v", pin, err)
	}
	rl, err := relay.New(h, relay.Config{Polarity: relay.NormallyOpen}, r.clock)
	if err != nil {
		r.t.Fatalf("relay.New %d: %v", pin, err)
	}
	return rl
}

// press returns a low pulse from at to at+hold with five 1ms bounces on
// the leading edge.
func press(at, hold time.Duration) []gpio.Transition {
	return []gpio.Transition{
		{At: at, Value: 0},
		{At: at + ms(1), Value: 1},
		{At: at + ms(2), Value: 0},
		{At: at + ms(3), Value: 1},
		{At: at + ms(4), Value: 0},
		{At: at + hold, Value: 1},
	}
}

// waitFor polls cond in real time.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// start runs task in the background. The returned stop cancels it and
// returns Run's result.
func startTask(t *testing.T, task Task, r *Reporter) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx, r) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("task did not stop")
			return nil
		}
	}
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []logic.Event
}

func (s *recordingSink) Publish(ev logic.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Events() []logic.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]logic.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count(kind logic.EventKind) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

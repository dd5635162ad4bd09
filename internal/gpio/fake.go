package gpio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
)

// Transition is one scripted change of a fake line, At after the chip's
// start time.
type Transition struct {
	At    time.Duration
	Value int
}

// FakeChip is a test double for Chip. Lines exist for every pin below
// NumLines; scripts may be attached before the line is requested.
type FakeChip struct {
	// NumLines bounds valid pin numbers.
	NumLines int
	// Unavailable makes every request fail with ErrDriverUnavailable.
	Unavailable bool
	// Closed tracks if Close was called.
	Closed bool

	clock *clock.Fake
	start time.Time

	mu    sync.Mutex
	lines map[int]*FakeLine
}

// NewFakeChip creates a FakeChip. clk may be nil, in which case scripts are
// ignored and values only change through Set or Push.
func NewFakeChip(numLines int, clk *clock.Fake) *FakeChip {
	c := &FakeChip{
		NumLines: numLines,
		clock:    clk,
		lines:    make(map[int]*FakeLine),
	}
	if clk != nil {
		c.start = clk.Now()
	}
	return c
}

// Line returns the fake line for pin, creating it if necessary.
func (c *FakeChip) Line(pin int) *FakeLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineLocked(pin)
}

func (c *FakeChip) lineLocked(pin int) *FakeLine {
	l, ok := c.lines[pin]
	if !ok {
		l = &FakeLine{Pin: pin, chip: c, events: make(chan Edge, edgeBufferFake)}
		c.lines[pin] = l
	}
	return l
}

const edgeBufferFake = 256

// RequestLine marks pin busy and returns its fake line.
func (c *FakeChip) RequestLine(pin int, cfg LineConfig) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable || c.Closed {
		return nil, ErrDriverUnavailable
	}
	if pin < 0 || pin >= c.NumLines {
		return nil, fmt.Errorf("%w: %d", ErrPinInvalid, pin)
	}
	l := c.lineLocked(pin)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.requested {
		return nil, fmt.Errorf("%w: %d", ErrPinBusy, pin)
	}
	l.requested = true
	l.released = false
	l.Config = cfg
	l.Requests++
	if cfg.Direction == Output {
		l.value = boolToInt(cfg.Initial)
		l.script = nil
	}
	return l, nil
}

// Close marks the chip closed.
func (c *FakeChip) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// FakeLine is a test double for Line.
type FakeLine struct {
	Pin int

	chip   *FakeChip
	events chan Edge

	mu        sync.Mutex
	Config    LineConfig
	Requests  int
	requested bool
	released  bool
	value     int
	script    []Transition
	writes    []int
	lost      bool
}

// Script replaces the line's value timeline. Values before the first
// transition read as the current value.
func (l *FakeLine) Script(ts ...Transition) {
	sorted := make([]Transition, len(ts))
	copy(sorted, ts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	l.mu.Lock()
	l.script = sorted
	l.mu.Unlock()
}

// Set changes the current value without generating an edge.
func (l *FakeLine) Set(v int) {
	l.mu.Lock()
	l.value = v
	l.script = nil
	l.mu.Unlock()
}

// Push changes the value and queues an edge if the value changed.
func (l *FakeLine) Push(v int) {
	l.mu.Lock()
	prev := l.valueLocked()
	l.value = v
	l.script = nil
	l.mu.Unlock()
	if prev != v {
		select {
		case l.events <- Edge{Pin: l.Pin, Rising: v == 1}:
		default:
		}
	}
}

// Lose makes every further operation fail with ErrHardwareLost.
func (l *FakeLine) Lose() {
	l.mu.Lock()
	l.lost = true
	l.mu.Unlock()
}

// Writes returns every value written through SetValue, in order.
func (l *FakeLine) Writes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.writes))
	copy(out, l.writes)
	return out
}

// Released reports whether the line was requested and then closed.
func (l *FakeLine) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Current returns the value the line would read now.
func (l *FakeLine) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.valueLocked()
}

func (l *FakeLine) valueLocked() int {
	if len(l.script) == 0 || l.chip.clock == nil {
		return l.value
	}
	elapsed := l.chip.clock.Now().Sub(l.chip.start)
	v := l.value
	for _, t := range l.script {
		if t.At > elapsed {
			break
		}
		v = t.Value
	}
	return v
}

func (l *FakeLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return 0, ErrHardwareLost
	}
	return l.valueLocked(), nil
}

func (l *FakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return ErrHardwareLost
	}
	if l.Config.Direction != Output {
		return ErrWrongDirection
	}
	l.value = v
	l.writes = append(l.writes, v)
	return nil
}

// WaitEdge follows the script when a fake clock is attached, advancing the
// clock to the next matching transition or by the full timeout. Without a
// script it waits for Push, ctx, or a real-time timeout.
func (l *FakeLine) WaitEdge(ctx context.Context, timeout time.Duration) (Edge, error) {
	l.mu.Lock()
	if l.lost {
		l.mu.Unlock()
		return Edge{}, ErrHardwareLost
	}
	if l.Config.Edge == EdgeNone {
		l.mu.Unlock()
		return Edge{}, ErrNoEdgeDetection
	}
	if len(l.script) > 0 && l.chip.clock != nil {
		e, wait, ok := l.nextScriptedEdgeLocked()
		l.mu.Unlock()
		if ok && (timeout <= 0 || wait <= timeout) {
			l.chip.clock.Advance(wait)
			return e, nil
		}
		if timeout > 0 {
			l.chip.clock.Advance(timeout)
			return Edge{}, ErrEdgeWaitTimeout
		}
	} else {
		l.mu.Unlock()
	}

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case e := <-l.events:
		return e, nil
	case <-expire:
		return Edge{}, ErrEdgeWaitTimeout
	case <-ctx.Done():
		return Edge{}, ctx.Err()
	}
}

func (l *FakeLine) nextScriptedEdgeLocked() (Edge, time.Duration, bool) {
	elapsed := l.chip.clock.Now().Sub(l.chip.start)
	cur := l.valueLocked()
	for _, t := range l.script {
		if t.At <= elapsed || t.Value == cur {
			continue
		}
		rising := t.Value == 1
		cur = t.Value
		if (l.Config.Edge == EdgeRising && !rising) || (l.Config.Edge == EdgeFalling && rising) {
			continue
		}
		return Edge{Pin: l.Pin, Rising: rising, Timestamp: t.At}, t.At - elapsed, true
	}
	return Edge{}, 0, false
}

func (l *FakeLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requested = false
	l.released = true
	return nil
}

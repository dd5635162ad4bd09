// Package logic contains the pure signal-processing state machines behind the
// control surface: contact debouncing and quadrature decoding.
// This package has NO external dependencies (no GPIO, MPD, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Direction is the rotation reported by a quadrature decoder.
type Direction int

const (
	None Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return "none"
}

// Reverse returns the opposite direction. None stays None.
func (d Direction) Reverse() Direction {
	switch d {
	case Forward:
		return Backward
	case Backward:
		return Forward
	}
	return None
}

// Delta is +1 for Forward, -1 for Backward and 0 for None.
func (d Direction) Delta() int {
	switch d {
	case Forward:
		return 1
	case Backward:
		return -1
	}
	return 0
}

// Bounds limits a decoder counter. With Wrap unset the counter is clamped to
// [Min, Max]; with Wrap set it wraps modulo Max-Min+1.
type Bounds struct {
	Min  int
	Max  int
	Wrap bool
}

// Apply returns c brought within the bounds.
func (b Bounds) Apply(c int) int {
	if b.Max < b.Min {
		return c
	}
	if b.Wrap {
		n := b.Max - b.Min + 1
		return b.Min + ((c-b.Min)%n+n)%n
	}
	if c < b.Min {
		return b.Min
	}
	if c > b.Max {
		return b.Max
	}
	return c
}

// EventKind classifies a control event.
type EventKind string

const (
	// EventPress is a debounce-confirmed button press.
	EventPress EventKind = "PRESS"
	// EventLongPress is a button held for its long-press window.
	EventLongPress EventKind = "LONG_PRESS"
	// EventStep is one decoded encoder step.
	EventStep EventKind = "STEP"
	// EventDispatch is a command issued to the player or a lamp.
	EventDispatch EventKind = "DISPATCH"
	// EventFault is a control failure.
	EventFault EventKind = "FAULT"
)

// Event is something a control did, for logs and telemetry.
type Event struct {
	Timestamp time.Time
	Control   string
	Kind      EventKind
	// Action is the command dispatched, if any.
	Action string
	// Direction is set for encoder steps.
	Direction Direction
	// Value is the counter after an encoder step.
	Value int
	// Err describes a failed dispatch or fault.
	Err string
}

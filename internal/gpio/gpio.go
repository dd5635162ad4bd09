// Package gpio provides exclusive ownership of GPIO lines behind a small
// driver boundary. The real driver uses the Linux GPIO character device.
// The fake driver allows testing without hardware.
//
// Logical 1 always means "line driven high". What high means for a lamp or a
// button is decided by the caller, never here.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPinBusy           = errors.New("gpio: pin busy")
	ErrPinInvalid        = errors.New("gpio: pin invalid")
	ErrDriverUnavailable = errors.New("gpio: driver unavailable")
	ErrWrongDirection    = errors.New("gpio: wrong direction")
	ErrEdgeWaitTimeout   = errors.New("gpio: edge wait timeout")
	ErrHardwareLost      = errors.New("gpio: hardware lost")
	ErrNoEdgeDetection   = errors.New("gpio: edge detection not enabled")
)

// Direction of a line.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Bias selects the internal resistor of an input line.
type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

// ParseBias accepts "none", "pull-up"/"up" and "pull-down"/"down".
func ParseBias(s string) (Bias, error) {
	switch s {
	case "", "none":
		return BiasNone, nil
	case "pull-up", "up":
		return BiasPullUp, nil
	case "pull-down", "down":
		return BiasPullDown, nil
	}
	return BiasNone, fmt.Errorf("unknown bias %q", s)
}

// EdgeMode selects which transitions of an input line generate events.
type EdgeMode int

const (
	EdgeNone EdgeMode = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// LineConfig describes how a line is requested from the chip.
type LineConfig struct {
	Direction Direction
	Bias      Bias
	Edge      EdgeMode
	// DebounceHint is passed to drivers that can debounce in the kernel.
	// Software debouncing is still applied by callers.
	DebounceHint time.Duration
	Consumer     string
	// Initial is the value an output line is driven to when requested.
	Initial bool
}

// Edge is a single transition observed on an input line.
type Edge struct {
	Pin    int
	Rising bool
	// Timestamp is driver-relative, only meaningful for ordering.
	Timestamp time.Duration
}

// Chip hands out lines. A pin is owned by at most one Line at a time.
type Chip interface {
	RequestLine(pin int, cfg LineConfig) (Line, error)
	Close() error
}

// Line is a requested GPIO line at the driver boundary.
type Line interface {
	// Value returns 0 or 1.
	Value() (int, error)
	SetValue(v int) error
	// WaitEdge blocks until an edge arrives. A zero timeout waits until ctx
	// is done.
	WaitEdge(ctx context.Context, timeout time.Duration) (Edge, error)
	Close() error
}

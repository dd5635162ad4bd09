package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Handle owns one GPIO line until Close. Close drives outputs to their safe
// (inactive) value before the line is released, so a relay is never left
// floating.
type Handle struct {
	pin       int
	direction Direction
	line      Line

	mu     sync.Mutex
	closed bool
}

// Acquire requests pin from chip.
func Acquire(chip Chip, pin int, cfg LineConfig) (*Handle, error) {
	if chip == nil {
		return nil, ErrDriverUnavailable
	}
	if pin < 0 {
		return nil, fmt.Errorf("%w: %d", ErrPinInvalid, pin)
	}
	line, err := chip.RequestLine(pin, cfg)
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}
	return &Handle{pin: pin, direction: cfg.Direction, line: line}, nil
}

// Pin returns the line offset this handle owns.
func (h *Handle) Pin() int { return h.pin }

// Direction returns the direction the line was requested with.
func (h *Handle) Direction() Direction { return h.direction }

// Read returns the logical value of the line (true = high).
func (h *Handle) Read() (bool, error) {
	if h.isClosed() {
		return false, fmt.Errorf("read pin %d: %w", h.pin, ErrHardwareLost)
	}
	v, err := h.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", h.pin, err)
	}
	return v != 0, nil
}

// Write drives an output line. Input lines fail with ErrWrongDirection.
func (h *Handle) Write(v bool) error {
	if h.direction != Output {
		return fmt.Errorf("write pin %d: %w", h.pin, ErrWrongDirection)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("write pin %d: %w", h.pin, ErrHardwareLost)
	}
	if err := h.line.SetValue(boolToInt(v)); err != nil {
		return fmt.Errorf("write pin %d: %w", h.pin, err)
	}
	return nil
}

// WaitForEdge blocks until the next edge on an input line, ctx is done, or
// timeout elapses (ErrEdgeWaitTimeout). A zero timeout waits on ctx only.
// No lock is held while waiting.
func (h *Handle) WaitForEdge(ctx context.Context, timeout time.Duration) (Edge, error) {
	if h.direction != Input {
		return Edge{}, fmt.Errorf("wait pin %d: %w", h.pin, ErrWrongDirection)
	}
	if h.isClosed() {
		return Edge{}, fmt.Errorf("wait pin %d: %w", h.pin, ErrHardwareLost)
	}
	e, err := h.line.WaitEdge(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrEdgeWaitTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Edge{}, err
		}
		return Edge{}, fmt.Errorf("wait pin %d: %w", h.pin, err)
	}
	return e, nil
}

// Close releases the line exactly once. Outputs are written low first.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.direction == Output {
		if err := h.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("safe value pin %d: %w", h.pin, err))
		}
	}
	if err := h.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release pin %d: %w", h.pin, err))
	}
	return errors.Join(errs...)
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

//go:build linux

package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// edgeBuffer is how many unread edges a line keeps before dropping new ones.
const edgeBuffer = 64

// RealChip hands out lines from a Linux GPIO character device.
type RealChip struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines map[int]*realLine
}

// OpenChip opens the named chip, e.g. "gpiochip0".
func OpenChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("westinghouse"))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDriverUnavailable, name, err)
	}
	return &RealChip{chip: chip, lines: make(map[int]*realLine)}, nil
}

// RequestLine requests pin with the given configuration.
func (c *RealChip) RequestLine(pin int, cfg LineConfig) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pin < 0 || pin >= c.chip.Lines() {
		return nil, fmt.Errorf("%w: %d not on %s", ErrPinInvalid, pin, c.chip.Name)
	}
	if _, busy := c.lines[pin]; busy {
		return nil, fmt.Errorf("%w: %d", ErrPinBusy, pin)
	}

	rl := &realLine{
		chip:   c,
		pin:    pin,
		output: cfg.Direction == Output,
		edges:  cfg.Edge != EdgeNone && cfg.Direction == Input,
		events: make(chan Edge, edgeBuffer),
		closed: make(chan struct{}),
	}

	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "westinghouse"
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer)}
	if rl.output {
		opts = append(opts, gpiocdev.AsOutput(boolToInt(cfg.Initial)))
	} else {
		opts = append(opts, gpiocdev.AsInput)
		switch cfg.Bias {
		case BiasPullUp:
			opts = append(opts, gpiocdev.WithPullUp)
		case BiasPullDown:
			opts = append(opts, gpiocdev.WithPullDown)
		default:
			opts = append(opts, gpiocdev.WithBiasDisabled)
		}
		switch cfg.Edge {
		case EdgeRising:
			opts = append(opts, gpiocdev.WithRisingEdge)
		case EdgeFalling:
			opts = append(opts, gpiocdev.WithFallingEdge)
		case EdgeBoth:
			opts = append(opts, gpiocdev.WithBothEdges)
		}
		if rl.edges {
			opts = append(opts, gpiocdev.WithEventHandler(rl.handleEvent))
		}
		if cfg.DebounceHint > 0 {
			opts = append(opts, gpiocdev.WithDebounce(cfg.DebounceHint))
		}
	}

	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		if errors.Is(err, syscall.EBUSY) {
			return nil, fmt.Errorf("%w: %d: %v", ErrPinBusy, pin, err)
		}
		if errors.Is(err, syscall.EINVAL) {
			return nil, fmt.Errorf("%w: %d: %v", ErrPinInvalid, pin, err)
		}
		return nil, fmt.Errorf("request line %d: %w", pin, err)
	}
	rl.line = line
	c.lines[pin] = rl
	return rl, nil
}

// Close releases any lines still held and then the chip.
func (c *RealChip) Close() error {
	c.mu.Lock()
	lines := make([]*realLine, 0, len(c.lines))
	for _, l := range c.lines {
		lines = append(lines, l)
	}
	c.mu.Unlock()

	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (c *RealChip) forget(pin int) {
	c.mu.Lock()
	delete(c.lines, pin)
	c.mu.Unlock()
}

type realLine struct {
	chip   *RealChip
	line   *gpiocdev.Line
	pin    int
	output bool
	edges  bool

	events    chan Edge
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// handleEvent runs on the gpiocdev watcher goroutine and must not block.
func (l *realLine) handleEvent(evt gpiocdev.LineEvent) {
	e := Edge{
		Pin:       evt.Offset,
		Rising:    evt.Type == gpiocdev.LineEventRisingEdge,
		Timestamp: evt.Timestamp,
	}
	select {
	case l.events <- e:
	default:
	}
}

func (l *realLine) Value() (int, error) {
	v, err := l.line.Value()
	if err != nil {
		return 0, mapLineErr(err)
	}
	return v, nil
}

func (l *realLine) SetValue(v int) error {
	if !l.output {
		return ErrWrongDirection
	}
	if err := l.line.SetValue(v); err != nil {
		return mapLineErr(err)
	}
	return nil
}

func (l *realLine) WaitEdge(ctx context.Context, timeout time.Duration) (Edge, error) {
	if !l.edges {
		return Edge{}, ErrNoEdgeDetection
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
	case <-l.closed:
		return Edge{}, ErrHardwareLost
	case <-expire:
		return Edge{}, ErrEdgeWaitTimeout
	case <-ctx.Done():
		return Edge{}, ctx.Err()
	}
}

// Close reconfigures inputs to pull-down (the Pi boot default) before
// releasing, matching what external optocouplers expect during reboot.
func (l *realLine) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		var errs []error
		if !l.output {
			if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
				errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", l.pin, err))
			}
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", l.pin, err))
		}
		l.chip.forget(l.pin)
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

func mapLineErr(err error) error {
	if errors.Is(err, gpiocdev.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrHardwareLost, err)
	}
	return err
}

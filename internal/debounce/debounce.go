// Package debounce turns a noisy input line into a clean logical signal.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
)

// ErrTimeout is returned when no confirmed change arrives in time. It also
// matches gpio.ErrEdgeWaitTimeout.
var ErrTimeout = fmt.Errorf("debounce: %w", gpio.ErrEdgeWaitTimeout)

// DefaultSample is the polling spacing used when none is configured.
const DefaultSample = 5 * time.Millisecond

// Config configures an Input.
type Config struct {
	// Window is how long a raw change must persist to be accepted.
	Window time.Duration
	// Sample is the spacing between reads while a change is being confirmed,
	// or always when the line has no edge detection.
	Sample time.Duration
	// UseEdges blocks on line edges while the signal is idle.
	UseEdges bool
}

// Input is a debounced input line. Safe for concurrent use.
type Input struct {
	line   *gpio.Handle
	clock  clock.Clock
	sample time.Duration
	edges  bool

	mu     sync.Mutex
	filter *logic.Debouncer
}

// New wraps an input handle and takes the baseline sample.
func New(line *gpio.Handle, cfg Config, clk clock.Clock) (*Input, error) {
	if line.Direction() != gpio.Input {
		return nil, fmt.Errorf("debounce pin %d: %w", line.Pin(), gpio.ErrWrongDirection)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	sample := cfg.Sample
	if sample <= 0 {
		sample = DefaultSample
	}
	in := &Input{
		line:   line,
		clock:  clk,
		sample: sample,
		edges:  cfg.UseEdges,
		filter: logic.NewDebouncer(cfg.Window),
	}
	if _, _, err := in.Poll(); err != nil {
		return nil, err
	}
	return in, nil
}

// Pin returns the underlying line offset.
func (in *Input) Pin() int { return in.line.Pin() }

// Read returns the last debounce-stable value without touching the line.
func (in *Input) Read() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.filter.Stable()
}

// Poll samples the line once and feeds the filter. It reports the stable
// value and whether this sample confirmed a change.
func (in *Input) Poll() (stable bool, changed bool, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	raw, err := in.line.Read()
	if err != nil {
		return in.filter.Stable(), false, err
	}
	stable, changed = in.filter.Update(raw, in.clock.Now())
	return stable, changed, nil
}

// WaitForChange blocks until a debounce-confirmed transition and returns the
// new value. A zero timeout waits until ctx is done. Only the calling
// goroutine is blocked.
func (in *Input) WaitForChange(ctx context.Context, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = in.clock.Now().Add(timeout)
	}

	for {
		stable, changed, err := in.Poll()
		if err != nil {
			return stable, err
		}
		if changed {
			return stable, nil
		}

		now := in.clock.Now()
		var left time.Duration
		if timeout > 0 {
			left = deadline.Sub(now)
			if left <= 0 {
				return stable, ErrTimeout
			}
		}

		pending, remaining := in.pending(now)
		if in.edges && !pending {
			if _, err := in.line.WaitForEdge(ctx, left); err != nil {
				if errors.Is(err, gpio.ErrEdgeWaitTimeout) {
					return stable, ErrTimeout
				}
				return stable, err
			}
			continue
		}

		wait := in.sample
		if remaining > 0 && remaining < wait {
			wait = remaining
		}
		if timeout > 0 && wait > left {
			wait = left
		}
		if err := in.clock.Sleep(ctx, wait); err != nil {
			return stable, err
		}
	}
}

// Close releases the line.
func (in *Input) Close() error {
	return in.line.Close()
}

func (in *Input) pending(now time.Time) (bool, time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.filter.Pending(), in.filter.Remaining(now)
}

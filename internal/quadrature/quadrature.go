// Package quadrature reads a two-phase rotary encoder as a stream of steps.
package quadrature

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/logic"
)

// DefaultInterval samples at 50 Hz.
const DefaultInterval = 20 * time.Millisecond

// Config configures an Encoder.
type Config struct {
	// Interval between samples. It must be shorter than the time between two
	// detents at the fastest expected turn or steps are silently dropped.
	Interval time.Duration
	// Initial counter value.
	Initial int
	// Bounds for the counter; nil leaves it unbounded.
	Bounds *logic.Bounds
	// Reverse swaps which rotation is forward.
	Reverse bool
}

// Encoder decodes phases A and B. Safe for concurrent use, though a single
// reader is expected.
type Encoder struct {
	a, b     *debounce.Input
	clock    clock.Clock
	interval time.Duration

	mu  sync.Mutex
	dec *logic.Quadrature
}

// New builds an Encoder over two debounced phases, primed with phase A's
// current stable value.
func New(a, b *debounce.Input, cfg Config, clk clock.Clock) *Encoder {
	if clk == nil {
		clk = clock.Real{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dec := logic.NewQuadrature(cfg.Initial, cfg.Bounds)
	dec.SetReverse(cfg.Reverse)
	dec.Prime(a.Read())
	return &Encoder{a: a, b: b, clock: clk, interval: interval, dec: dec}
}

// Pins returns the phase A and phase B line offsets.
func (e *Encoder) Pins() (int, int) { return e.a.Pin(), e.b.Pin() }

// Poll samples both phases once. It returns logic.None when phase A has not
// changed since the previous sample.
func (e *Encoder) Poll() (logic.Direction, error) {
	a, _, errA := e.a.Poll()
	b, _, errB := e.b.Poll()
	if err := errors.Join(errA, errB); err != nil {
		return logic.None, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dec.Update(a, b), nil
}

// Next blocks until a step is decoded, sampling every interval.
func (e *Encoder) Next(ctx context.Context) (logic.Direction, error) {
	for {
		dir, err := e.Poll()
		if err != nil || dir != logic.None {
			return dir, err
		}
		if err := e.clock.Sleep(ctx, e.interval); err != nil {
			return logic.None, err
		}
	}
}

// Counter returns the step counter.
func (e *Encoder) Counter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dec.Counter()
}

// SetCounter overwrites the step counter, applying the bounds.
func (e *Encoder) SetCounter(c int) {
	e.mu.Lock()
	e.dec.SetCounter(c)
	e.mu.Unlock()
}

// Close releases both phases.
func (e *Encoder) Close() error {
	return errors.Join(e.a.Close(), e.b.Close())
}

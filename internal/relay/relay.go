// Package relay drives relay-switched lamps. It maps logical on/off onto the
// raw line level according to the relay's wiring and never switches the
// contacts faster than the configured settle delay.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/gpio"
)

// Polarity is the relay wiring convention.
type Polarity int

const (
	// NormallyOpen: coil energised (raw 1) closes the lamp circuit.
	NormallyOpen Polarity = iota
	// NormallyClosed: coil energised (raw 1) opens the lamp circuit.
	NormallyClosed
)

func (p Polarity) String() string {
	if p == NormallyClosed {
		return "nc"
	}
	return "no"
}

// Level returns the line level that puts the lamp in the given state.
func (p Polarity) Level(on bool) bool {
	if p == NormallyClosed {
		return !on
	}
	return on
}

// ParsePolarity accepts "no"/"normally-open" and "nc"/"normally-closed".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "", "no", "normally-open":
		return NormallyOpen, nil
	case "nc", "normally-closed":
		return NormallyClosed, nil
	}
	return NormallyOpen, fmt.Errorf("unknown relay polarity %q", s)
}

// Config configures a Relay.
type Config struct {
	Polarity Polarity
	// Settle is the minimum time between two physical transitions.
	Settle time.Duration
	// InitialOn is the logical state applied when the relay is created.
	InitialOn bool
}

// Relay is a lamp on a relay-driven output line. All methods are safe for
// concurrent use; calls are serialized so transitions never interleave.
type Relay struct {
	line     *gpio.Handle
	polarity Polarity
	settle   time.Duration
	clock    clock.Clock

	mu          sync.Mutex
	lastChange  time.Time
	transitions int
}

// New wraps an output handle and drives it to cfg.InitialOn.
func New(line *gpio.Handle, cfg Config, clk clock.Clock) (*Relay, error) {
	if line.Direction() != gpio.Output {
		return nil, fmt.Errorf("relay on pin %d: %w", line.Pin(), gpio.ErrWrongDirection)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Relay{
		line:     line,
		polarity: cfg.Polarity,
		settle:   cfg.Settle,
		clock:    clk,
	}
	if err := line.Write(r.raw(cfg.InitialOn)); err != nil {
		return nil, fmt.Errorf("relay initial state: %w", err)
	}
	r.lastChange = clk.Now()
	return r, nil
}

// Pin returns the relay's line offset.
func (r *Relay) Pin() int { return r.line.Pin() }

// Polarity returns the wiring convention.
func (r *Relay) Polarity() Polarity { return r.polarity }

// IsOn reports whether the lamp circuit is closed.
func (r *Relay) IsOn() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOnLocked()
}

// On switches the lamp on. It returns whether a transition occurred.
func (r *Relay) On() (bool, error) { return r.Set(true) }

// Off switches the lamp off. It returns whether a transition occurred.
func (r *Relay) Off() (bool, error) { return r.Set(false) }

// Set drives the lamp to on, returning whether a transition occurred.
func (r *Relay) Set(on bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.isOnLocked()
	if err != nil {
		return false, err
	}
	if cur == on {
		return false, nil
	}
	return true, r.switchLocked(on)
}

// Toggle inverts the lamp and returns the new state.
func (r *Relay) Toggle() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toggleLocked()
}

// Blink toggles, waits d, toggles, waits d, toggles. The lamp ends in the
// opposite state from where it started. If ctx is cancelled the remaining
// toggles still happen without the d waits, and ctx.Err() is returned.
func (r *Relay) Blink(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var waitErr error
	for i := 0; i < 3; i++ {
		if i > 0 && waitErr == nil {
			waitErr = r.clock.Sleep(ctx, d)
		}
		if _, err := r.toggleLocked(); err != nil {
			return err
		}
	}
	return waitErr
}

// Transitions returns how many physical transitions the relay has made.
func (r *Relay) Transitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions
}

// Close releases the line. The line is left at its safe raw level.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line.Close()
}

func (r *Relay) toggleLocked() (bool, error) {
	cur, err := r.isOnLocked()
	if err != nil {
		return false, err
	}
	if err := r.switchLocked(!cur); err != nil {
		return cur, err
	}
	return !cur, nil
}

func (r *Relay) switchLocked(on bool) error {
	if wait := r.settle - r.clock.Now().Sub(r.lastChange); wait > 0 {
		// Settle waits are short and must complete even during shutdown.
		_ = r.clock.Sleep(context.Background(), wait)
	}
	if err := r.line.Write(r.raw(on)); err != nil {
		return err
	}
	r.lastChange = r.clock.Now()
	r.transitions++
	return nil
}

func (r *Relay) isOnLocked() (bool, error) {
	raw, err := r.line.Read()
	if err != nil {
		return false, err
	}
	if r.polarity == NormallyClosed {
		return !raw, nil
	}
	return raw, nil
}

// raw returns the line level that puts the lamp in the given state.
func (r *Relay) raw(on bool) bool { return r.polarity.Level(on) }

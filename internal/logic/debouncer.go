package logic

import "time"

// Debouncer filters a raw boolean signal. A raw change is only accepted as
// the new stable value once it has persisted for the full window; a reversal
// inside the window discards the candidate.
type Debouncer struct {
	window time.Duration

	stable       bool
	pending      bool
	pendingSince time.Time
	baselined    bool
}

// NewDebouncer creates a Debouncer with the given window. A zero window
// accepts every change on the sample it is first seen.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Update feeds one raw sample taken at now. It returns the stable value and
// whether this sample changed it. The first sample establishes the baseline
// and never reports a change.
func (d *Debouncer) Update(raw bool, now time.Time) (stable bool, changed bool) {
	if !d.baselined {
		d.stable = raw
		d.baselined = true
		return d.stable, false
	}

	if raw == d.stable {
		// Bounce back to the stable value: drop the candidate.
		d.pending = false
		return d.stable, false
	}

	if !d.pending {
		d.pending = true
		d.pendingSince = now
	}
	if now.Sub(d.pendingSince) >= d.window {
		d.stable = raw
		d.pending = false
		return d.stable, true
	}
	return d.stable, false
}

// Stable returns the last accepted value.
func (d *Debouncer) Stable() bool { return d.stable }

// Baselined reports whether any sample has been seen.
func (d *Debouncer) Baselined() bool { return d.baselined }

// Pending reports whether a candidate change is being timed.
func (d *Debouncer) Pending() bool { return d.pending }

// Remaining returns how long the pending candidate must still hold, or 0.
func (d *Debouncer) Remaining(now time.Time) time.Duration {
	if !d.pending {
		return 0
	}
	left := d.window - now.Sub(d.pendingSince)
	if left < 0 {
		return 0
	}
	return left
}

// Window returns the configured debounce window.
func (d *Debouncer) Window() time.Duration { return d.window }

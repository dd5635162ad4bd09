package logic

// Quadrature decodes the two phases of a rotary encoder. Direction is taken
// from phase B's relation to the new phase A value whenever phase A changes;
// one sample never produces more than one step.
type Quadrature struct {
	lastA   bool
	primed  bool
	reverse bool
	counter int
	bounds  *Bounds
}

// NewQuadrature creates a decoder. bounds may be nil for an unbounded counter.
func NewQuadrature(initial int, bounds *Bounds) *Quadrature {
	q := &Quadrature{counter: initial, bounds: bounds}
	if bounds != nil {
		q.counter = bounds.Apply(initial)
	}
	return q
}

// SetReverse swaps which rotation counts as forward. Which way is "up"
// depends on how the encoder is wired, so it is configuration.
func (q *Quadrature) SetReverse(reverse bool) { q.reverse = reverse }

// Prime records phase A's current value without producing a step.
func (q *Quadrature) Prime(a bool) {
	q.lastA = a
	q.primed = true
}

// Update feeds one sample of both phases and returns the step it produced.
// The first sample only primes the decoder.
func (q *Quadrature) Update(a, b bool) Direction {
	if !q.primed {
		q.Prime(a)
		return None
	}
	if a == q.lastA {
		return None
	}
	q.lastA = a

	dir := Backward
	if b != a {
		dir = Forward
	}
	if q.reverse {
		dir = dir.Reverse()
	}
	if dir == Forward {
		q.counter++
	} else {
		q.counter--
	}
	if q.bounds != nil {
		q.counter = q.bounds.Apply(q.counter)
	}
	return dir
}

// Counter returns the current step counter.
func (q *Quadrature) Counter() int { return q.counter }

// SetCounter overwrites the counter, applying the bounds.
func (q *Quadrature) SetCounter(c int) {
	if q.bounds != nil {
		c = q.bounds.Apply(c)
	}
	q.counter = c
}

package logic

import "testing"

type phase struct{ a, b bool }

func feed(q *Quadrature, seq []phase) (fwd, back int) {
	for _, p := range seq {
		switch q.Update(p.a, p.b) {
		case Forward:
			fwd++
		case Backward:
			back++
		}
	}
	return fwd, back
}

func TestQuadratureSingleForwardStep(t *testing.T) {
	q := NewQuadrature(0, nil)

	// A=0,B=0 -> A=1,B=0 -> A=1,B=1
	fwd, back := feed(q, []phase{{false, false}, {true, false}, {true, true}})
	if fwd != 1 || back != 0 {
		t.Errorf("events: got fwd=%d back=%d, want 1/0", fwd, back)
	}
	if q.Counter() != 1 {
		t.Errorf("counter: got %d, want 1", q.Counter())
	}
}

func TestQuadratureBackwardStep(t *testing.T) {
	q := NewQuadrature(0, nil)

	// A changes to match B: backward.
	fwd, back := feed(q, []phase{{false, true}, {true, true}})
	if fwd != 0 || back != 1 {
		t.Errorf("events: got fwd=%d back=%d, want 0/1", fwd, back)
	}
	if q.Counter() != -1 {
		t.Errorf("counter: got %d, want -1", q.Counter())
	}
}

func TestQuadratureNoTransition(t *testing.T) {
	q := NewQuadrature(5, nil)
	q.Prime(true)

	for i := 0; i < 10; i++ {
		if dir := q.Update(true, i%2 == 0); dir != None {
			t.Fatalf("sample %d: got %v, want none", i, dir)
		}
	}
	if q.Counter() != 5 {
		t.Errorf("counter: got %d, want 5", q.Counter())
	}
}

func TestQuadratureSimultaneousChangeIsOneEvent(t *testing.T) {
	q := NewQuadrature(0, nil)
	q.Prime(false)

	// Both phases flip within one sample.
	if dir := q.Update(true, true); dir != Backward {
		t.Errorf("got %v, want backward", dir)
	}
	if q.Counter() != -1 {
		t.Errorf("counter: got %d, want -1", q.Counter())
	}
}

func TestQuadratureCounterMatchesEvents(t *testing.T) {
	// Full clockwise detents then counter-clockwise detents.
	cw := []phase{{true, false}, {true, true}, {false, true}, {false, false}}
	ccw := []phase{{false, true}, {true, true}, {true, false}, {false, false}}

	q := NewQuadrature(0, nil)
	q.Prime(false)
	var seq []phase
	for i := 0; i < 3; i++ {
		seq = append(seq, cw...)
	}
	seq = append(seq, ccw...)

	fwd, back := feed(q, seq)
	if q.Counter() != fwd-back {
		t.Errorf("counter %d != fwd %d - back %d", q.Counter(), fwd, back)
	}
	if fwd == 0 || back == 0 {
		t.Errorf("expected both directions, got fwd=%d back=%d", fwd, back)
	}
}

func TestQuadratureClamp(t *testing.T) {
	q := NewQuadrature(49, &Bounds{Min: 0, Max: 50})
	q.Prime(false)

	q.Update(true, false) // 50
	q.Update(false, true) // clamped at 50
	q.Update(true, false) // clamped at 50
	if q.Counter() != 50 {
		t.Errorf("counter: got %d, want 50", q.Counter())
	}

	q.SetCounter(-10)
	if q.Counter() != 0 {
		t.Errorf("SetCounter clamp: got %d, want 0", q.Counter())
	}
}

func TestQuadratureWrap(t *testing.T) {
	q := NewQuadrature(3, &Bounds{Min: 0, Max: 3, Wrap: true})
	q.Prime(false)

	if dir := q.Update(true, false); dir != Forward {
		t.Fatalf("got %v, want forward", dir)
	}
	if q.Counter() != 0 {
		t.Errorf("wrap up: got %d, want 0", q.Counter())
	}
	q.Update(false, false) // backward
	if q.Counter() != 3 {
		t.Errorf("wrap down: got %d, want 3", q.Counter())
	}
}

func TestBoundsApply(t *testing.T) {
	tests := []struct {
		name string
		b    Bounds
		in   int
		want int
	}{
		{"inside", Bounds{Min: 0, Max: 10}, 5, 5},
		{"below", Bounds{Min: 0, Max: 10}, -1, 0},
		{"above", Bounds{Min: 0, Max: 10}, 11, 10},
		{"wrap above", Bounds{Min: 0, Max: 9, Wrap: true}, 12, 2},
		{"wrap below", Bounds{Min: 0, Max: 9, Wrap: true}, -1, 9},
		{"wrap offset", Bounds{Min: 5, Max: 7, Wrap: true}, 8, 5},
		{"inverted ignored", Bounds{Min: 10, Max: 0}, 42, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Apply(tt.in); got != tt.want {
				t.Errorf("Apply(%d): got %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDirectionString(t *testing.T) {
	if Forward.String() != "forward" || Backward.String() != "backward" || None.String() != "none" {
		t.Error("unexpected Direction strings")
	}
}

func TestQuadratureReverse(t *testing.T) {
	q := NewQuadrature(10, nil)
	q.SetReverse(true)
	q.Update(false, false)

	if got := q.Update(true, false); got != Backward {
		t.Errorf("got %v, want backward", got)
	}
	if q.Counter() != 9 {
		t.Errorf("counter: got %d, want 9", q.Counter())
	}
	if None.Reverse() != None {
		t.Error("None must stay None")
	}
}

package player

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Fake is an in-memory Client for tests. It applies commands to State and
// records them in order.
type Fake struct {
	mu sync.Mutex
	// State is the player state commands act on.
	State Status
	// Unreachable makes every command fail with ErrUnreachable.
	Unreachable bool
	// Reject maps command names to refusal; the command is recorded but
	// fails with ErrCommandRejected and does not change State.
	Reject map[string]bool
	// Delay is a real-time pause inside every command, used to observe
	// overlapping dispatch.
	Delay time.Duration

	calls       []string
	attempts    int
	inFlight    int
	maxInFlight int
}

// NewFake returns a reachable, stopped player at volume 50 with an empty
// queue.
func NewFake() *Fake {
	return &Fake{
		State:  Status{State: StateStop, Volume: 50, Song: -1},
		Reject: make(map[string]bool),
	}
}

// SetReachable flips reachability.
func (f *Fake) SetReachable(ok bool) {
	f.mu.Lock()
	f.Unreachable = !ok
	f.mu.Unlock()
}

// SetStatus replaces the player state.
func (f *Fake) SetStatus(s Status) {
	f.mu.Lock()
	f.State = s
	f.mu.Unlock()
}

// Snapshot returns the current player state.
func (f *Fake) Snapshot() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.State
}

// Calls returns every command that reached the player, excluding status
// reads and pings.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Attempts counts every command issued, including failed ones.
func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// MaxInFlight returns the most commands ever executing at once.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *Fake) do(ctx context.Context, name, call string, apply func(*Status) error) error {
	f.mu.Lock()
	f.attempts++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.Delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unreachable {
		return fmt.Errorf("%s: %w", name, ErrUnreachable)
	}
	if call != "" {
		f.calls = append(f.calls, call)
	}
	if f.Reject[name] {
		return fmt.Errorf("%s: %w", name, ErrCommandRejected)
	}
	if apply != nil {
		return apply(&f.State)
	}
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.do(ctx, "ping", "", nil)
}

func (f *Fake) Status(ctx context.Context) (Status, error) {
	var st Status
	err := f.do(ctx, "status", "", func(s *Status) error {
		st = *s
		return nil
	})
	return st, err
}

func (f *Fake) TogglePause(ctx context.Context) error {
	return f.do(ctx, "toggle", "toggle", func(s *Status) error {
		if s.State == StatePlay {
			s.State = StatePause
		} else {
			s.State = StatePlay
		}
		return nil
	})
}

func (f *Fake) Play(ctx context.Context) error {
	return f.do(ctx, "play", "play", func(s *Status) error {
		s.State = StatePlay
		return nil
	})
}

func (f *Fake) Pause(ctx context.Context) error {
	return f.do(ctx, "pause", "pause", func(s *Status) error {
		if s.State == StatePlay {
			s.State = StatePause
		}
		return nil
	})
}

func (f *Fake) Next(ctx context.Context) error {
	return f.do(ctx, "next", "next", func(s *Status) error {
		if !s.HasNext() {
			return fmt.Errorf("next: %w: end of queue", ErrCommandRejected)
		}
		s.Song++
		return nil
	})
}

func (f *Fake) Previous(ctx context.Context) error {
	return f.do(ctx, "previous", "previous", func(s *Status) error {
		if s.Song > 0 {
			s.Song--
		}
		return nil
	})
}

func (f *Fake) Shuffle(ctx context.Context) error {
	return f.do(ctx, "shuffle", "shuffle", nil)
}

func (f *Fake) Clear(ctx context.Context) error {
	return f.do(ctx, "clear", "clear", func(s *Status) error {
		s.PlaylistLength = 0
		s.Song = -1
		s.State = StateStop
		return nil
	})
}

func (f *Fake) Add(ctx context.Context, uri string) error {
	return f.do(ctx, "add", "add "+uri, func(s *Status) error {
		s.PlaylistLength++
		return nil
	})
}

func (f *Fake) Update(ctx context.Context, uri string) (int, error) {
	call := "update"
	if uri != "" {
		call += " " + uri
	}
	var job int
	err := f.do(ctx, "update", call, func(*Status) error {
		job = 1
		return nil
	})
	return job, err
}

func (f *Fake) SetVolume(ctx context.Context, volume int) error {
	return f.do(ctx, "setvol", "setvol "+strconv.Itoa(volume), func(s *Status) error {
		s.Volume = volume
		return nil
	})
}

func (f *Fake) Random(ctx context.Context, on bool) error {
	return f.do(ctx, "random", "random "+onOff(on), func(s *Status) error {
		s.Random = on
		return nil
	})
}

func (f *Fake) Repeat(ctx context.Context, on bool) error {
	return f.do(ctx, "repeat", "repeat "+onOff(on), func(s *Status) error {
		s.Repeat = on
		return nil
	})
}

func (f *Fake) LoadPlaylist(ctx context.Context, name string) error {
	return f.do(ctx, "load", "load "+name, nil)
}

func onOff(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ Client = (*Fake)(nil)

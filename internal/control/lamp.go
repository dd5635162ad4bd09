package control

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/relay"
	"github.com/sweeney/westinghouse/internal/status"
)

// LampMode selects what an indicator lamp shows.
type LampMode string

const (
	// ModeLiveness blinks while the player is unreachable and holds steady
	// on once it answers.
	ModeLiveness LampMode = "liveness"
	// ModePlaying is on while the player is playing.
	ModePlaying LampMode = "playing"
)

// ParseLampMode validates a mode name.
func ParseLampMode(s string) (LampMode, error) {
	switch m := LampMode(s); m {
	case ModeLiveness, ModePlaying:
		return m, nil
	}
	return "", fmt.Errorf("unknown lamp mode %q", s)
}

// LampConfig configures a LampTask.
type LampConfig struct {
	Name string
	Mode LampMode
	// Interval between status checks while steady.
	Interval time.Duration
	// Blink is the wait between the toggles of one blink.
	Blink time.Duration
}

// LampTask drives an indicator relay from the player's state.
type LampTask struct {
	cfg    LampConfig
	relay  *relay.Relay
	player player.Client
	clock  clock.Clock
}

// NewLamp creates a LampTask.
func NewLamp(cfg LampConfig, r *relay.Relay, client player.Client, clk clock.Clock) *LampTask {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Blink <= 0 {
		cfg.Blink = 750 * time.Millisecond
	}
	return &LampTask{cfg: cfg, relay: r, player: client, clock: clk}
}

func (l *LampTask) Name() string { return l.cfg.Name }
func (l *LampTask) Kind() string { return "lamp/" + string(l.cfg.Mode) }
func (l *LampTask) Pins() []int  { return []int{l.relay.Pin()} }
func (l *LampTask) Close() error { return l.relay.Close() }

func (l *LampTask) Run(ctx context.Context, r *Reporter) error {
	r.Phase(status.PhasePolling)
	for {
		steady, err := l.Check(ctx, r)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("lamp %s: %w", l.cfg.Name, err)
		}
		if !steady {
			continue
		}
		if err := l.clock.Sleep(ctx, l.cfg.Interval); err != nil {
			return nil
		}
	}
}

// Check performs one status check and the lamp change it calls for. It
// reports whether the lamp is steady; a blinking lamp has already spent its
// blink time, including the pause before its next toggle, and should be
// checked again straight away. Only hardware
// errors are returned.
func (l *LampTask) Check(ctx context.Context, r *Reporter) (steady bool, err error) {
	switch l.cfg.Mode {
	case ModeLiveness:
		perr := l.player.Ping(ctx)
		if ctx.Err() != nil {
			return true, nil
		}
		r.Reachable(perr == nil)
		if perr != nil {
			r.Logger().Debug("player not answering", "error", perr)
			err = r.Dispatch(ctx, "blink", func(ctx context.Context) error {
				return l.relay.Blink(ctx, l.cfg.Blink)
			})
			if err := l.hardware(r, err); err != nil {
				return false, err
			}
			// Hold the last state as long as the others so the next
			// blink keeps the same rhythm.
			l.clock.Sleep(ctx, l.cfg.Blink)
			return false, nil
		}
		return true, l.set(ctx, r, true)

	case ModePlaying:
		st, perr := l.player.Status(ctx)
		if ctx.Err() != nil {
			return true, nil
		}
		r.Player(st, perr == nil)
		return true, l.set(ctx, r, perr == nil && st.Playing())
	}
	return true, fmt.Errorf("unknown lamp mode %q", l.cfg.Mode)
}

// set switches the lamp only when it differs from want.
func (l *LampTask) set(ctx context.Context, r *Reporter, want bool) error {
	on, err := l.relay.IsOn()
	if err != nil {
		return err
	}
	if on != want {
		action := "lamp off"
		if want {
			action = "lamp on"
		}
		err = r.Dispatch(ctx, action, func(context.Context) error {
			_, err := l.relay.Set(want)
			return err
		})
		if err := l.hardware(r, err); err != nil {
			return err
		}
	}
	on, err = l.relay.IsOn()
	if err != nil {
		return err
	}
	r.Lamp(on)
	return nil
}

func (l *LampTask) hardware(r *Reporter, err error) error {
	if err != nil && hardwareErr(err) {
		return err
	}
	if on, ierr := l.relay.IsOn(); ierr == nil {
		r.Lamp(on)
	}
	return nil
}

var _ Task = (*LampTask)(nil)

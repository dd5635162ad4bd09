package control

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/debounce"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/status"
)

// DefaultWaitTimeout bounds each blocking wait so shutdown is noticed.
const DefaultWaitTimeout = time.Second

// LongPress runs a system command when a button is held. The line is
// sampled every Sample for Hold and the command runs when at least
// Threshold of the samples read pressed.
type LongPress struct {
	Hold      time.Duration
	Sample    time.Duration
	Threshold float64
	Command   []string
}

// Enabled reports whether a hold window and command are configured.
func (l LongPress) Enabled() bool { return l.Hold > 0 && len(l.Command) > 0 }

// Runner executes a system command.
type Runner func(ctx context.Context, argv []string) error

// ExecRunner runs argv with os/exec.
func ExecRunner(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ButtonConfig configures a ButtonTask.
type ButtonConfig struct {
	Name   string
	Action Action
	// ActiveLow means the button reads low when pressed (pull-up wiring).
	ActiveLow bool
	// HoldOff is the minimum spacing between dispatched actions. Presses
	// inside it are dropped.
	HoldOff time.Duration
	// WaitTimeout bounds each wait for a change.
	WaitTimeout time.Duration
	LongPress   LongPress
}

// ButtonTask dispatches an action on each debounced press.
type ButtonTask struct {
	cfg     ButtonConfig
	input   *debounce.Input
	player  player.Client
	clock   clock.Clock
	limiter *rate.Limiter
	runner  Runner
}

// NewButton creates a ButtonTask.
func NewButton(cfg ButtonConfig, input *debounce.Input, client player.Client, clk clock.Clock) *ButtonTask {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.LongPress.Sample <= 0 {
		cfg.LongPress.Sample = 10 * time.Millisecond
	}
	if cfg.LongPress.Threshold <= 0 {
		cfg.LongPress.Threshold = 0.8
	}
	limit := rate.Inf
	if cfg.HoldOff > 0 {
		limit = rate.Every(cfg.HoldOff)
	}
	return &ButtonTask{
		cfg:     cfg,
		input:   input,
		player:  client,
		clock:   clk,
		limiter: rate.NewLimiter(limit, 1),
		runner:  ExecRunner,
	}
}

// SetRunner replaces the long-press command runner.
func (b *ButtonTask) SetRunner(r Runner) { b.runner = r }

func (b *ButtonTask) Name() string { return b.cfg.Name }
func (b *ButtonTask) Kind() string { return "button" }
func (b *ButtonTask) Pins() []int  { return []int{b.input.Pin()} }
func (b *ButtonTask) Close() error { return b.input.Close() }

func (b *ButtonTask) pressed(v bool) bool { return v != b.cfg.ActiveLow }

func (b *ButtonTask) Run(ctx context.Context, r *Reporter) error {
	r.Phase(status.PhasePolling)
	for {
		v, err := b.input.WaitForChange(ctx, b.cfg.WaitTimeout)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, debounce.ErrTimeout):
			continue
		case err != nil:
			return fmt.Errorf("button %s: %w", b.cfg.Name, err)
		}
		if !b.pressed(v) {
			continue
		}
		now := b.clock.Now()
		r.Event(logic.Event{Kind: logic.EventPress, Timestamp: now})

		if b.cfg.LongPress.Enabled() {
			held, err := b.held(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				return fmt.Errorf("button %s: %w", b.cfg.Name, err)
			}
			if held {
				cmd := b.cfg.LongPress.Command
				r.Event(logic.Event{Kind: logic.EventLongPress})
				r.Dispatch(ctx, strings.Join(cmd, " "), func(ctx context.Context) error {
					return b.runner(ctx, cmd)
				})
				continue
			}
		}

		if b.cfg.Action == ActionNone {
			continue
		}
		if !b.limiter.AllowN(now, 1) {
			r.Logger().Debug("press ignored during hold-off", "action", string(b.cfg.Action))
			continue
		}
		r.Dispatch(ctx, string(b.cfg.Action), func(ctx context.Context) error {
			return b.cfg.Action.Do(ctx, b.player)
		})
	}
}

// held samples the button over the long-press window. It returns as soon
// as the threshold can no longer be reached, so a short press on a button
// that also has an action is dispatched shortly after release.
func (b *ButtonTask) held(ctx context.Context) (bool, error) {
	lp := b.cfg.LongPress
	n := int(lp.Hold / lp.Sample)
	if n < 1 {
		n = 1
	}
	need := lp.Threshold * float64(n)
	count := 0
	for i := 0; i < n; i++ {
		if err := b.clock.Sleep(ctx, lp.Sample); err != nil {
			return false, err
		}
		v, _, err := b.input.Poll()
		if err != nil {
			return false, err
		}
		if b.pressed(v) {
			count++
		} else if float64(count+n-i-1) < need {
			return false, nil
		}
	}
	return float64(count) >= need, nil
}

var _ Task = (*ButtonTask)(nil)

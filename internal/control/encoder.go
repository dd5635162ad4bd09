package control

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/quadrature"
	"github.com/sweeney/westinghouse/internal/status"
)

// EncoderMode selects what an encoder controls.
type EncoderMode string

const (
	// ModeVolume moves the player volume one step per detent.
	ModeVolume EncoderMode = "volume"
	// ModeTrack skips to the next track on forward steps and the previous
	// track on backward steps.
	ModeTrack EncoderMode = "track"
)

// ParseEncoderMode validates a mode name.
func ParseEncoderMode(s string) (EncoderMode, error) {
	switch m := EncoderMode(s); m {
	case ModeVolume, ModeTrack:
		return m, nil
	}
	return "", fmt.Errorf("unknown encoder mode %q", s)
}

// EncoderConfig configures an EncoderTask.
type EncoderConfig struct {
	Name string
	Mode EncoderMode
}

// EncoderTask dispatches one command per decoded step.
type EncoderTask struct {
	cfg    EncoderConfig
	enc    *quadrature.Encoder
	player player.Client
}

// NewEncoder creates an EncoderTask. In volume mode the encoder's bounds
// should be the volume bounds.
func NewEncoder(cfg EncoderConfig, enc *quadrature.Encoder, client player.Client) *EncoderTask {
	return &EncoderTask{cfg: cfg, enc: enc, player: client}
}

func (e *EncoderTask) Name() string { return e.cfg.Name }
func (e *EncoderTask) Kind() string { return "encoder/" + string(e.cfg.Mode) }
func (e *EncoderTask) Close() error { return e.enc.Close() }

func (e *EncoderTask) Pins() []int {
	a, b := e.enc.Pins()
	return []int{a, b}
}

func (e *EncoderTask) Run(ctx context.Context, r *Reporter) error {
	r.Phase(status.PhasePolling)
	for {
		dir, err := e.enc.Next(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("encoder %s: %w", e.cfg.Name, err)
		}

		switch e.cfg.Mode {
		case ModeVolume:
			e.stepVolume(ctx, r, dir)
		case ModeTrack:
			r.Event(logic.Event{Kind: logic.EventStep, Direction: dir, Value: e.enc.Counter()})
			if dir == logic.Forward {
				r.Dispatch(ctx, "next", e.next)
			} else {
				r.Dispatch(ctx, "previous", e.player.Previous)
			}
		}
	}
}

// stepVolume applies one step to the player's current volume, so a change made
// by another client is stepped from rather than undone. The encoder counter
// stands in only while the player cannot be asked.
func (e *EncoderTask) stepVolume(ctx context.Context, r *Reporter, dir logic.Direction) {
	current := -1
	st, err := e.player.Status(ctx)
	switch {
	case err != nil:
		r.Logger().Debug("volume read failed", "error", err)
	case st.Volume >= 0:
		current = st.Volume
		e.enc.SetCounter(current + dir.Delta())
	}

	value := e.enc.Counter()
	r.Event(logic.Event{Kind: logic.EventStep, Direction: dir, Value: value})
	if value == current {
		return
	}
	r.Dispatch(ctx, "setvol "+strconv.Itoa(value), func(ctx context.Context) error {
		return e.player.SetVolume(ctx, value)
	})
}

// next skips forward only when a later track is queued.
func (e *EncoderTask) next(ctx context.Context) error {
	st, err := e.player.Status(ctx)
	if err != nil {
		return err
	}
	if !st.HasNext() {
		return fmt.Errorf("next: %w: end of queue", player.ErrCommandRejected)
	}
	return e.player.Next(ctx)
}

var _ Task = (*EncoderTask)(nil)

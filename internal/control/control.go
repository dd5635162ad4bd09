// Package control runs one task per physical control. Each task turns its
// own input into player commands or lamp changes and dispatches them one at
// a time, so a control never has two commands in flight.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/gpio"
	"github.com/sweeney/westinghouse/internal/logic"
	"github.com/sweeney/westinghouse/internal/player"
	"github.com/sweeney/westinghouse/internal/status"
)

// Task is one control's loop. Run blocks until ctx is done (returning nil)
// or the control's hardware fails. Close releases the task's lines.
type Task interface {
	Name() string
	Kind() string
	Pins() []int
	Run(ctx context.Context, r *Reporter) error
	Close() error
}

// EventSink receives control events. Publishing failures are logged and
// never affect the task.
type EventSink interface {
	Publish(event logic.Event) error
}

// Action is a player command bound to a button.
type Action string

const (
	ActionNone        Action = ""
	ActionTogglePause Action = "toggle-pause"
	ActionPlay        Action = "play"
	ActionPause       Action = "pause"
	ActionNext        Action = "next"
	ActionPrevious    Action = "previous"
	ActionShuffle     Action = "shuffle"
)

// ParseAction validates an action name. "none" and "" are ActionNone.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "none", ActionNone:
		return ActionNone, nil
	case ActionTogglePause, ActionPlay, ActionPause, ActionNext, ActionPrevious, ActionShuffle:
		return a, nil
	}
	return ActionNone, fmt.Errorf("unknown action %q", s)
}

// Do issues the action against c.
func (a Action) Do(ctx context.Context, c player.Client) error {
	switch a {
	case ActionTogglePause:
		return c.TogglePause(ctx)
	case ActionPlay:
		return c.Play(ctx)
	case ActionPause:
		return c.Pause(ctx)
	case ActionNext:
		return c.Next(ctx)
	case ActionPrevious:
		return c.Previous(ctx)
	case ActionShuffle:
		return c.Shuffle(ctx)
	case ActionNone:
		return nil
	}
	return fmt.Errorf("unknown action %q", string(a))
}

// Reporter is a task's view of the rest of the daemon: logging, the status
// tracker and the event sink. Tracker and sink may be nil.
type Reporter struct {
	name    string
	tracker *status.Tracker
	sink    EventSink
	logger  *slog.Logger
	clock   clock.Clock
}

// NewReporter creates a Reporter for the named control.
func NewReporter(name string, tracker *status.Tracker, sink EventSink, logger *slog.Logger, clk clock.Clock) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Reporter{
		name:    name,
		tracker: tracker,
		sink:    sink,
		logger:  logger.With("control", name),
		clock:   clk,
	}
}

// Logger returns the control's logger.
func (r *Reporter) Logger() *slog.Logger { return r.logger }

// Phase records the task's lifecycle phase.
func (r *Reporter) Phase(p status.Phase) {
	if r.tracker != nil {
		r.tracker.SetPhase(r.name, p)
	}
}

// Event records and publishes ev, stamping its time and control name.
func (r *Reporter) Event(ev logic.Event) {
	ev.Control = r.name
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.clock.Now()
	}
	if r.tracker != nil {
		label := string(ev.Kind)
		switch {
		case ev.Action != "":
			label += " " + ev.Action
		case ev.Direction != logic.None:
			label += " " + ev.Direction.String()
		}
		r.tracker.RecordEvent(r.name, label, ev.Timestamp)
	}
	if r.sink != nil {
		if err := r.sink.Publish(ev); err != nil {
			r.logger.Debug("event publish failed", "error", err)
		}
	}
}

// Dispatch runs one command for the control and records the outcome.
// Player failures are logged and returned; the caller keeps polling.
func (r *Reporter) Dispatch(ctx context.Context, action string, fn func(context.Context) error) error {
	r.Phase(status.PhaseDispatching)
	err := fn(ctx)
	r.Phase(status.PhasePolling)

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if r.tracker != nil {
		r.tracker.RecordDispatch(r.name, err)
	}
	ev := logic.Event{Kind: logic.EventDispatch, Action: action}
	switch {
	case err == nil:
		r.logger.Debug("dispatched", "action", action)
	case errors.Is(err, player.ErrCommandRejected):
		r.logger.Info("command rejected", "action", action, "error", err)
		ev.Err = err.Error()
	case errors.Is(err, player.ErrUnreachable), errors.Is(err, player.ErrCircuitOpen):
		r.logger.Warn("player unreachable", "action", action, "error", err)
		ev.Err = err.Error()
	default:
		r.logger.Warn("dispatch failed", "action", action, "error", err)
		ev.Err = err.Error()
	}
	r.Event(ev)
	return err
}

// Fault records an error that stops the task.
func (r *Reporter) Fault(err error) {
	r.logger.Error("control stopped", "error", err)
	if r.tracker != nil {
		r.tracker.RecordError(r.name, err)
	}
	r.Event(logic.Event{Kind: logic.EventFault, Err: err.Error()})
}

// Lamp records a lamp's state.
func (r *Reporter) Lamp(on bool) {
	if r.tracker != nil {
		r.tracker.SetLamp(r.name, on)
	}
}

// Player records a player status check.
func (r *Reporter) Player(st player.Status, reachable bool) {
	if r.tracker == nil {
		return
	}
	r.tracker.SetPlayer(status.Player{
		Reachable:      reachable,
		State:          st.State,
		Volume:         st.Volume,
		Song:           st.Song,
		PlaylistLength: st.PlaylistLength,
		CheckedAt:      r.clock.Now(),
	})
}

// Reachable records a liveness check.
func (r *Reporter) Reachable(ok bool) {
	if r.tracker != nil {
		r.tracker.SetReachable(ok, r.clock.Now())
	}
}

// hardwareErr reports whether err means the control's line is gone.
func hardwareErr(err error) bool {
	return errors.Is(err, gpio.ErrHardwareLost) ||
		errors.Is(err, gpio.ErrWrongDirection) ||
		errors.Is(err, gpio.ErrNoEdgeDetection)
}

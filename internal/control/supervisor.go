package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/westinghouse/internal/clock"
	"github.com/sweeney/westinghouse/internal/relay"
	"github.com/sweeney/westinghouse/internal/status"
)

// Config configures a Supervisor. Every field is optional.
type Config struct {
	Tracker *status.Tracker
	Sink    EventSink
	Logger  *slog.Logger
	Clock   clock.Clock
	// StartupBlink blinks each of Lamps once, in order, before the tasks
	// start. Zero skips it.
	StartupBlink time.Duration
	Lamps        []*relay.Relay
}

// Supervisor runs one task per control for the life of the process. A task
// that fails is stopped and reported on Errors; the others keep running.
type Supervisor struct {
	cfg   Config
	tasks []Task
	errs  chan error
}

// NewSupervisor creates a Supervisor owning tasks.
func NewSupervisor(cfg Config, tasks ...Task) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Supervisor{
		cfg:   cfg,
		tasks: tasks,
		errs:  make(chan error, len(tasks)),
	}
}

// Errors delivers each task failure once. It is buffered for every task, so
// nobody has to read it.
func (s *Supervisor) Errors() <-chan error { return s.errs }

// Tasks returns the supervised tasks.
func (s *Supervisor) Tasks() []Task { return s.tasks }

// Run starts every task and blocks until all have returned. Tasks stop when
// ctx is done. Every task's lines are released before Run returns. The
// result joins all task failures.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.cfg.Logger.With("component", "supervisor")
	for _, t := range s.tasks {
		if s.cfg.Tracker != nil {
			s.cfg.Tracker.Register(t.Name(), t.Kind(), t.Pins()...)
		}
	}

	if err := s.startupBlink(ctx); err != nil {
		s.closeAll()
		return fmt.Errorf("startup blink: %w", err)
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	// Failures are collected, never returned to the group: one control
	// failing must not stop the others.
	for _, t := range s.tasks {
		g.Go(func() error {
			r := NewReporter(t.Name(), s.cfg.Tracker, s.cfg.Sink, s.cfg.Logger, s.cfg.Clock)
			err := t.Run(ctx, r)
			r.Phase(status.PhaseStopped)
			if err != nil {
				r.Fault(err)
				s.errs <- err
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
			if cerr := t.Close(); cerr != nil {
				r.Logger().Warn("release failed", "error", cerr)
			}
			return nil
		})
	}
	log.Info("controls started", "count", len(s.tasks))
	g.Wait()
	log.Info("controls stopped", "failed", len(failed))
	return errors.Join(failed...)
}

func (s *Supervisor) startupBlink(ctx context.Context) error {
	if s.cfg.StartupBlink <= 0 {
		return nil
	}
	for _, l := range s.cfg.Lamps {
		if err := l.Blink(ctx, s.cfg.StartupBlink); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pin %d: %w", l.Pin(), err)
		}
	}
	return nil
}

func (s *Supervisor) closeAll() {
	for _, t := range s.tasks {
		if err := t.Close(); err != nil {
			s.cfg.Logger.Warn("release failed", "control", t.Name(), "error", err)
		}
	}
}

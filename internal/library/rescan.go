package library

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sweeney/westinghouse/internal/player"
)

// rescanTimeout bounds one scheduled update request.
const rescanTimeout = 30 * time.Second

// Rescanner asks the player to rescan its whole library on a cron schedule.
type Rescanner struct {
	player   player.Client
	logger   *slog.Logger
	schedule cron.Schedule
	cron     *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	runs int
}

// ParseSchedule accepts a five-field cron spec or a descriptor such as
// "@daily" or "@every 6h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return sched, nil
}

// NewRescanner creates a Rescanner for spec.
func NewRescanner(spec string, client player.Client, logger *slog.Logger) (*Rescanner, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rescanner{
		player:   client,
		logger:   logger.With("component", "rescan"),
		schedule: sched,
		cron:     cron.New(),
	}
	r.cron.Schedule(sched, cron.FuncJob(r.job))
	return r, nil
}

// Next returns the first run after t.
func (r *Rescanner) Next(t time.Time) time.Time {
	return r.schedule.Next(t)
}

// Runs returns how many scheduled rescans have been attempted.
func (r *Rescanner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Rescan requests one full library update.
func (r *Rescanner) Rescan(ctx context.Context) error {
	job, err := r.player.Update(ctx, "")
	if err != nil {
		return fmt.Errorf("rescan: %w", err)
	}
	r.logger.Info("library rescan started", "job", job)
	return nil
}

func (r *Rescanner) job() {
	r.mu.Lock()
	ctx := r.ctx
	r.runs++
	r.mu.Unlock()
	if ctx == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, rescanTimeout)
	defer cancel()
	if err := r.Rescan(ctx); err != nil {
		r.logger.Warn("scheduled rescan failed", "error", err)
	}
}

// Run schedules rescans until ctx is done, then waits for a running rescan
// to finish.
func (r *Rescanner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Info("library rescans scheduled", "next", r.Next(time.Now()))
	<-ctx.Done()
	<-r.cron.Stop().Done()

	r.mu.Lock()
	r.ctx = nil
	r.mu.Unlock()
	return nil
}

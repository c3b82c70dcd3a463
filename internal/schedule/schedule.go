// Package schedule fires extraction pipeline runs on a cron cadence.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dunbarhq/dunbar/internal/pipeline"
)

// Runner is the work one tick performs. *pipeline.Pipeline satisfies it; the
// single-flight guard lives there, so a tick that lands during a long run
// comes back as a skipped summary instead of piling up.
type Runner interface {
	Run(ctx context.Context) *pipeline.RunSummary
}

// ValidateSpec reports whether expr parses as a standard five-field cron
// expression (descriptors like @hourly included). Used as a pre-check so a
// bad schedule fails configuration loading instead of being discovered at
// service start.
func ValidateSpec(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler triggers a Runner on a cron expression.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	ctx    context.Context
	log    *slog.Logger
}

// New validates expr and builds a scheduler that invokes runner on each tick.
// ctx is handed to every triggered run; cancelling it does not stop the
// ticks, that is Stop's job.
func New(ctx context.Context, expr string, runner Runner, log *slog.Logger) (*Scheduler, error) {
	if err := ValidateSpec(expr); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		ctx:    ctx,
		log:    log,
	}
	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, fmt.Errorf("registering schedule: %w", err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	sum := s.runner.Run(s.ctx)
	if sum.Skipped {
		s.log.Info("scheduled run skipped, previous run still in flight", "run_id", sum.RunID)
		return
	}
	s.log.Info("scheduled run complete", sum.LogAttrs()...)
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future ticks and waits for an in-flight one to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the schedule fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

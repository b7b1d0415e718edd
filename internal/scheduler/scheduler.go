// Package scheduler periodically refreshes paired devices on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/keyturner/internal/engine"
)

// Refresher refreshes the info of every paired device.
type Refresher interface {
	ListPaired(ctx context.Context) ([]engine.DeviceStatus, error)
}

// Scheduler triggers device refreshes. A refresh that is still running when
// the next one is due causes that one to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	logger   *slog.Logger
}

// New parses schedule (standard five-field cron syntax or a descriptor such as
// "@every 15m") and registers the refresh job.
func New(schedule string, r Refresher, logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With("component", "scheduler")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	job := &refreshJob{
		refresher: r,
		logger:    logger,
		tracer:    otel.Tracer("github.com/seantiz/keyturner/internal/scheduler"),
	}
	if _, err := c.AddJob(schedule, job); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", schedule, err)
	}

	return &Scheduler{cron: c, schedule: schedule, logger: logger}, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running refresh to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "schedule", s.schedule)
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

type refreshJob struct {
	refresher Refresher
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Run is called by cron.
func (j *refreshJob) Run() {
	ctx, span := j.tracer.Start(context.Background(), "scheduler.Refresh")
	defer span.End()

	devices, err := j.refresher.ListPaired(ctx)
	if err != nil {
		j.logger.Error("device refresh failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	reachable := 0
	for _, d := range devices {
		if d.IsReachable {
			reachable++
		}
	}
	span.SetAttributes(
		attribute.Int("devices.paired", len(devices)),
		attribute.Int("devices.reachable", reachable),
	)
	j.logger.Info("devices refreshed", "paired", len(devices), "reachable", reachable)
}

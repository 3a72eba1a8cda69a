// Package scheduler wraps robfig/cron/v3 for the pipeline's periodic jobs
// (Classifier cycle, EmergencyStopManager throttle, symbol/regime/coverage
// refreshes), adapted from the cron wrapper pattern in aristath-sentinel's
// trader-go module but logging via zap instead of zerolog.
package scheduler

import (
	"context"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named periodic task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages background jobs and records one ScheduledTaskExecution
// row per run, so job history survives process restarts.
type Scheduler struct {
	cron  *cron.Cron
	tasks *store.ScheduledTaskRepo
	log   *zap.Logger
}

// New creates a Scheduler.
func New(tasks *store.ScheduledTaskRepo, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		tasks: tasks,
		log:   log.Named("scheduler"),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers job under a standard cron schedule expression, e.g.
// "@every 5m" or "0 9 * * MON-FRI".
func (s *Scheduler) AddJob(ctx context.Context, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runTracked(ctx, job)
	})
	if err != nil {
		return err
	}
	s.log.Info("job registered", zap.String("schedule", schedule), zap.String("job", job.Name()))
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) {
	s.runTracked(ctx, job)
}

func (s *Scheduler) runTracked(ctx context.Context, job Job) {
	record := &types.ScheduledTaskExecution{
		ID:        uuid.NewString(),
		TaskName:  job.Name(),
		StartedAt: time.Now().UTC(),
	}
	if err := s.tasks.Start(ctx, record); err != nil {
		s.log.Warn("failed to record task start", zap.String("job", job.Name()), zap.Error(err))
	}

	err := job.Run(ctx)

	detail := ""
	if err != nil {
		detail = err.Error()
		s.log.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
	} else {
		s.log.Debug("job completed", zap.String("job", job.Name()))
	}
	if finishErr := s.tasks.Finish(ctx, record.ID, err == nil, detail); finishErr != nil {
		s.log.Warn("failed to record task finish", zap.String("job", job.Name()), zap.Error(finishErr))
	}
}

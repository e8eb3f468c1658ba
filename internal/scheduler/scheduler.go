package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler runs jobs on cron expressions with a seconds field.
// A run that is still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *logrus.Entry
}

// New creates a scheduler whose jobs receive ctx.
func New(ctx context.Context, log *logrus.Entry) *Scheduler {
	logger := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: ctx,
		log: log,
	}
}

// Register adds job under the cron expression spec.
func (s *Scheduler) Register(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.log.WithField("job", name).Info("Scheduled job triggered")
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "spec": spec}).Debug("Job registered")
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

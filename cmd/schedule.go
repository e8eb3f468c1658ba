package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabarim/stockharvest/internal/scheduler"
	"github.com/sabarim/stockharvest/internal/server"
)

var runNow bool

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run harvests on the configured cron schedule and serve status",
		RunE:  runSchedule,
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Start a harvest immediately in addition to the schedule")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(cfg.Schedule.StatusAddr, a.history, a.metrics, logger.WithField("component", "server"))
	srv.Start()

	job := func(ctx context.Context) {
		if _, err := a.harvest(ctx); err != nil {
			logger.WithError(err).Error("Scheduled harvest failed")
		}
	}

	sched := scheduler.New(ctx, logger.WithField("component", "scheduler"))
	if err := sched.Register("harvest", cfg.Schedule.Cron, job); err != nil {
		return err
	}
	sched.Start()

	var immediate sync.WaitGroup
	if runNow {
		immediate.Add(1)
		go func() {
			defer immediate.Done()
			job(ctx)
		}()
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for running harvest")
	sched.Stop()
	immediate.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

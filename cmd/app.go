package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sabarim/stockharvest/internal/config"
	"github.com/sabarim/stockharvest/internal/fetcher"
	"github.com/sabarim/stockharvest/internal/historical"
	"github.com/sabarim/stockharvest/internal/lock"
	"github.com/sabarim/stockharvest/internal/metrics"
	"github.com/sabarim/stockharvest/internal/notify"
	"github.com/sabarim/stockharvest/internal/pipeline"
	"github.com/sabarim/stockharvest/internal/ratelimit"
	"github.com/sabarim/stockharvest/internal/server"
	"github.com/sabarim/stockharvest/internal/storage"
	"github.com/sabarim/stockharvest/internal/symbols"
	"github.com/sabarim/stockharvest/internal/writer"
)

// app holds the long-lived collaborators shared by every run.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	store   storage.Store
	metrics *metrics.Recorder
	history *server.RunHistory

	discoverer symbols.Discoverer
	planner    *historical.Planner
	limiter    *ratelimit.Limiter
	fetcher    *fetcher.Fetcher

	locker    lock.Locker
	closeLock func() error
	publisher notify.Publisher

	// running serialises runs within this process; locker covers other processes.
	running sync.Mutex
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	component := func(name string) *logrus.Entry {
		return logger.WithField("component", name)
	}

	discoverer, err := newDiscoverer(cfg, component("symbols"))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Storage, component("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	locker, closeLock, err := lock.New(ctx, cfg.Lock, component("lock"))
	if err != nil {
		store.Close()
		return nil, err
	}

	publisher, err := notify.New(cfg.Notify, component("notify"))
	if err != nil {
		closeLock()
		store.Close()
		return nil, err
	}

	rec := metrics.NewRecorder()
	return &app{
		cfg:        cfg,
		log:        logger,
		store:      store,
		metrics:    rec,
		history:    &server.RunHistory{},
		discoverer: discoverer,
		planner:    historical.NewPlanner(store, cfg.Pipeline.MaxChunkDays, cfg.Pipeline.LookbackYears),
		limiter:    ratelimit.New(cfg.LimiterOptions(), component("limiter")),
		fetcher:    fetcher.New(cfg.FetcherOptions(), nil, rec, component("fetcher")),
		locker:     locker,
		closeLock:  closeLock,
		publisher:  publisher,
	}, nil
}

func newDiscoverer(cfg config.Config, log *logrus.Entry) (symbols.Discoverer, error) {
	switch {
	case symbolsStr != "":
		return symbols.StaticDiscoverer(symbols.ParseList(symbolsStr)), nil
	case symbolFile != "":
		list, err := symbols.LoadFile(symbolFile)
		if err != nil {
			return nil, err
		}
		return symbols.StaticDiscoverer(list), nil
	default:
		client := &http.Client{Timeout: cfg.Source.ConnectTimeout + cfg.Source.ReadTimeout}
		return symbols.NewHTMLDiscoverer(cfg.Source.SymbolsURL, cfg.Source.UserAgent, client, log), nil
	}
}

// harvest runs the pipeline once under the run lock and announces the result.
func (a *app) harvest(ctx context.Context) (pipeline.RunSummary, error) {
	if !a.running.TryLock() {
		a.log.Warn("A harvest is already running in this process, skipping this run")
		return pipeline.RunSummary{}, lock.ErrHeld
	}
	defer a.running.Unlock()

	release, err := a.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			a.log.Warn("Another harvest is in progress, skipping this run")
		}
		return pipeline.RunSummary{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	// the writer is single-use, so each run gets its own
	sink := writer.New(a.cfg.WriterOptions(), a.store, a.metrics, a.log.WithField("component", "writer"))
	p := pipeline.New(a.cfg.PipelineOptions(), pipeline.Deps{
		Discoverer: a.discoverer,
		Planner:    a.planner,
		Limiter:    a.limiter,
		Fetcher:    a.fetcher,
		Sink:       sink,
		Metrics:    a.metrics,
		Log:        a.log.WithField("component", "pipeline"),
	})

	a.history.Begin()
	summary, err := p.Run(ctx)
	a.history.Finish(summary, err)
	if err != nil {
		return summary, err
	}

	if err := a.publisher.Publish(context.WithoutCancel(ctx), summary); err != nil {
		a.log.WithError(err).Warn("Failed to publish run summary")
	}
	return summary, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close publisher")
	}
	if err := a.closeLock(); err != nil {
		a.log.WithError(err).Warn("Failed to close lock client")
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
}

package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/padraicbc/racedata/config"
	"github.com/padraicbc/racedata/db"
	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/jobclient"
	applog "github.com/padraicbc/racedata/logger"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/store"
)

// app is everything a command needs, built once per invocation.
type app struct {
	store     *store.Store
	ingest    *ingest.Orchestrator
	links     *matching.Service
	overrides *matching.Overrides
	log       *zap.Logger
	closeFn   func()
}

type commandContext struct {
	build func() (*app, error)

	once sync.Once
	app  *app
	err  error
}

func newCommandContext(build func() (*app, error)) *commandContext {
	return &commandContext{build: build}
}

func (c *commandContext) ensureApp() (*app, error) {
	c.once.Do(func() {
		c.app, c.err = c.build()
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app != nil && c.app.closeFn != nil {
		c.app.closeFn()
	}
}

func buildApp() (*app, error) {
	cfg := config.Load()
	logger, err := applog.New(cfg.Debug)
	if err != nil {
		return nil, err
	}

	bdb := db.Setup(cfg)
	if err := db.CreateTables(context.Background(), bdb); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	st := store.New(bdb)
	client := jobclient.New(cfg.WorkerURL,
		jobclient.WithToken(cfg.WorkerToken),
		jobclient.WithRateLimit(cfg.WorkerRPS),
		jobclient.WithLogger(logger.Named("jobclient")),
	)
	a := newApp(st, client, cfg.Matching(), logger, ingest.WithSettings(cfg.Ingest()))
	a.closeFn = func() {
		_ = bdb.Close()
		_ = logger.Sync()
	}
	return a, nil
}

func newApp(st *store.Store, client ingest.JobClient, policy matching.Policy, logger *zap.Logger, opts ...ingest.Option) *app {
	logger = applog.OrNop(logger)
	links := matching.NewService(st, matching.NewMatcher(nil, policy), matching.WithLogger(logger.Named("matching")))
	opts = append(opts, ingest.WithReconciler(links), ingest.WithLogger(logger.Named("ingest")))
	return &app{
		store:     st,
		ingest:    ingest.NewOrchestrator(st, client, opts...),
		links:     links,
		overrides: matching.NewOverrides(st, logger.Named("overrides")),
		log:       logger,
	}
}

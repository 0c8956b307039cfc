// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/perfscope/pkg/logging"
	"github.com/AleutianAI/perfscope/services/perfscope"
	"github.com/AleutianAI/perfscope/services/perfscope/cache"
	"github.com/AleutianAI/perfscope/services/perfscope/config"
	"github.com/AleutianAI/perfscope/services/perfscope/insights"
	"github.com/AleutianAI/perfscope/services/perfscope/model"
	"github.com/AleutianAI/perfscope/services/perfscope/storage"
	pbadger "github.com/AleutianAI/perfscope/services/perfscope/storage/badger"
	"github.com/AleutianAI/perfscope/services/perfscope/telemetry"
)

// appOptions selects which components openApp builds.
type appOptions struct {
	// store opens the session store.
	store bool

	// persist saves every parsed session to the store. Implies store.
	persist bool

	// metrics keeps the configured metric exporter. Commands that exit
	// before anything could scrape them turn Prometheus off.
	metrics bool
}

// app holds the components a command runs against.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	logger   *slog.Logger
	shutdown func(context.Context) error

	db    *pbadger.DB
	store *storage.SessionStore

	model *model.Model
	svc   *perfscope.Service
}

// openApp loads configuration and wires logging, telemetry, storage and
// the model. The caller must Close the app.
func openApp(ctx context.Context, flags *rootFlags, opts appOptions) (a *app, err error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	a.log = logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		LogDir:  cfg.Logging.Dir,
		Service: "perfscope",
		JSON:    cfg.Logging.JSON,
	})
	a.logger = a.log.Slog()
	slog.SetDefault(a.logger)

	tcfg := cfg.Telemetry
	if !opts.metrics && tcfg.MetricExporter == telemetry.ExporterPrometheus {
		tcfg.MetricExporter = telemetry.ExporterNone
	}
	if a.shutdown, err = telemetry.Init(ctx, tcfg); err != nil {
		return a, fmt.Errorf("initializing telemetry: %w", err)
	}

	if opts.store || opts.persist {
		if a.db, err = pbadger.Open(cfg.BadgerConfig(a.logger)); err != nil {
			return a, fmt.Errorf("opening session store: %w", err)
		}
		if a.store, err = storage.NewSessionStore(a.db, a.logger); err != nil {
			return a, err
		}
	}

	c := cache.New(cache.WithMaxEntries(cfg.Engine.CacheMaxEntries))
	orch := insights.NewOrchestrator(
		insights.WithLogger(a.logger),
		insights.WithCache(c),
		insights.WithLanternSettings(cfg.Lantern),
		insights.WithSignificanceThreshold(cfg.SignificanceThreshold()),
	)
	modelOpts := []model.Option{
		model.WithLogger(a.logger),
		model.WithCache(c),
		model.WithOrchestrator(orch),
		model.WithChunkSize(cfg.Engine.ChunkSize),
		model.WithUserConfig(cfg.Handlers),
	}
	if opts.persist {
		modelOpts = append(modelOpts, model.WithPersister(a.store))
	}
	if a.model, err = model.New(modelOpts...); err != nil {
		return a, err
	}
	if a.svc, err = perfscope.NewService(a.model, a.logger); err != nil {
		return a, err
	}
	return a, nil
}

// Close releases everything openApp acquired, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

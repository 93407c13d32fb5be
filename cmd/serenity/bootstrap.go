package main

import (
	"context"
	"fmt"

	"github.com/datallboy/serenity/internal/app"
	"github.com/datallboy/serenity/internal/engine"
	"github.com/datallboy/serenity/internal/infra/config"
	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/manifest"
	"github.com/datallboy/serenity/internal/remote"
	"github.com/datallboy/serenity/internal/retry"
	"github.com/datallboy/serenity/internal/store"
)

type services struct {
	app        *app.Context
	db         *store.PersistentStore
	remote     remote.Store
	downloader *engine.Downloader
	runner     *engine.Runner
}

// bootstrap wires config, logging, storage and the engine.
// quiet keeps log lines off stdout so the CLI progress bar stays intact.
func bootstrap(ctx context.Context, quiet bool) (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout && !quiet)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	rs, err := remote.Open(ctx, cfg.Remote)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open remote %s: %w", cfg.Remote.Backend, err)
	}

	a := app.NewContext(cfg, log)
	a.Settings = db
	a.History = db

	locator := remote.NewLocator(cfg.Remote.Bucket, cfg.Remote.Dev)
	downloader := engine.NewDownloader(rs, locator, engine.NewFileWriter(), log, engine.Options{
		DebugChunks: cfg.Download.DebugChunks,
		ChunkMax:    cfg.Download.ChunkMaxBytes,
	})
	fetcher := manifest.NewFetcher(rs, locator, db, log)

	runner := engine.NewRunner(engine.RunnerConfig{
		SoundsDir:  cfg.Download.SoundsDir,
		MaxWorkers: cfg.Download.MaxWorkers,
		Backoff:    retry.Backoff{Base: cfg.Retry.BaseDelay, MaxAttempts: cfg.Retry.MaxAttempts},
	}, downloader, fetcher, db, a.Progress, db, log)
	a.Engine = runner

	log.Debug("remote %s bucket=%s dev=%v, store %s", cfg.Remote.Backend, cfg.Remote.Bucket, cfg.Remote.Dev, cfg.Store.Driver)

	return &services{app: a, db: db, remote: rs, downloader: downloader, runner: runner}, nil
}

func (s *services) Close() {
	s.downloader.Close()
	if err := s.remote.Close(); err != nil {
		s.app.Logger.Warn("closing remote: %v", err)
	}
	if err := s.db.Close(); err != nil {
		s.app.Logger.Warn("closing store: %v", err)
	}
}

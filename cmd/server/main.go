// Soundkeep - Listening History Sync and Archive Ingestion
// Copyright 2026 Soundkeep contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/soundkeep/soundkeep

// Command server runs the Soundkeep daemon: the sync scheduler, the archive
// import sweep, and the operational HTTP endpoints, all under one
// supervision tree.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/soundkeep/soundkeep/internal/api"
	"github.com/soundkeep/soundkeep/internal/config"
	"github.com/soundkeep/soundkeep/internal/database"
	"github.com/soundkeep/soundkeep/internal/importer"
	"github.com/soundkeep/soundkeep/internal/logging"
	"github.com/soundkeep/soundkeep/internal/spotify"
	"github.com/soundkeep/soundkeep/internal/supervisor"
	syncengine "github.com/soundkeep/soundkeep/internal/sync"
)

func main() {
	if err := run(); err != nil {
		logging.Err(err).Msg("Soundkeep exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("db_path", cfg.Database.Path).Msg("Soundkeep starting")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Err(err).Msg("Database close failed")
		}
	}()

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)

	if cfg.Sync.Enabled {
		client := spotify.NewBreakerClient(spotify.NewClient(&cfg.Spotify))
		tokens := spotify.NewTokenManager(&cfg.Spotify, db)
		engine := syncengine.NewEngine(db, client, tokens, &cfg.Sync)
		tree.AddIngestService(syncengine.NewScheduler(db, engine, &cfg.Sync))
	} else {
		logging.Info().Msg("Sync scheduler disabled")
	}

	if cfg.Import.Enabled {
		tree.AddIngestService(importer.NewService(importer.New(db, &cfg.Import), &cfg.Import))
	} else {
		logging.Info().Msg("Archive importer disabled")
	}

	tree.AddAPIService(api.NewServer(&cfg.Server, api.NewRouter(db)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Soundkeep stopped")
	return nil
}

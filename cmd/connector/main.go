// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/homesafe-connector/internal/api"
	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/configsync"
	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/locator"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/orchestrator"
	"github.com/tomtom215/homesafe-connector/internal/retention"
	"github.com/tomtom215/homesafe-connector/internal/scheduler"
	"github.com/tomtom215/homesafe-connector/internal/source"
	"github.com/tomtom215/homesafe-connector/internal/supervisor"
	"github.com/tomtom215/homesafe-connector/internal/supervisor/services"
	"github.com/tomtom215/homesafe-connector/internal/uploader"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("supervisor_url", cfg.Source.URL).
		Str("backend_url", cfg.Backend.APIURL).
		Str("upload_function", cfg.Backend.UploadFunction).
		Bool("auto_backup", cfg.Schedule.AutoBackup).
		Str("backup_time", cfg.Schedule.BackupTime).
		Int("local_keep", cfg.Retention.LocalKeep).
		Msg("Starting HomeSafe connector")

	clk := clock.WallClock

	src := source.NewClient(cfg.Source, source.WithClock(clk))
	loc := locator.New(src, cfg.Locator, clk)
	be := backend.NewClient(cfg.Backend)
	up := uploader.New(be, cfg.Upload, clk)
	ret := retention.New(src)

	sideSync := configsync.New(cfg.ConfigSync)
	if sideSync.Enabled() {
		logging.Info().
			Str("repo", cfg.ConfigSync.Repo).
			Int("files", len(cfg.ConfigSync.Files)).
			Msg("Configuration side sync enabled")
	}

	store, err := history.Open(cfg.History)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open run history")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing run history")
		}
	}()

	orch := orchestrator.New(orchestrator.Deps{
		Locator:   loc,
		Source:    src,
		Uploader:  up,
		Retention: ret,
		SideSync:  sideSync,
		History:   store,
		Clock:     clk,
	}, orchestrator.Options{RetentionLimit: cfg.Retention.LocalKeep})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	sched, err := scheduler.New(orch, cfg.Schedule, clk)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid backup schedule")
	}
	tree.AddTriggerService(services.NewTriggerService("backup-scheduler", sched))

	if cfg.Schedule.VersionCheckInterval > 0 {
		watch := scheduler.NewVersionWatch(orch, src, be, cfg.Schedule.VersionCheckInterval, clk)
		tree.AddTriggerService(services.NewTriggerService("version-watch", watch))
		logging.Info().Dur("interval", cfg.Schedule.VersionCheckInterval).Msg("Pre-update version watch enabled")
	}

	if cfg.Server.Enabled {
		handler := api.NewHandler(orch, be, be, version)
		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           api.NewRouter(handler, cfg.Server),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP control surface enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, stopping services...")
		// The tree sends exactly one result once every service has stopped.
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	stop()

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	// Triggers are stopped; cancel a run in flight and wait for its cleanup
	// before the history store closes.
	orch.Close()

	logging.Info().Msg("Connector stopped")
}

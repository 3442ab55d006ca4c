// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/orchestrator"
)

// CoreVersioner reports the running Home Assistant Core version.
type CoreVersioner interface {
	CoreVersion(ctx context.Context) (string, error)
}

// BackupLister lists backups already held by the backend.
type BackupLister interface {
	List(ctx context.Context) ([]backend.RemoteBackup, error)
}

// VersionWatch runs a pre_update backup when the Core version differs from
// the version recorded on the newest remote backup.
type VersionWatch struct {
	runner   Runner
	core     CoreVersioner
	remote   BackupLister
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	lifecycle

	seenMu sync.Mutex
	seen   string
}

// NewVersionWatch creates a VersionWatch checking every interval.
func NewVersionWatch(runner Runner, core CoreVersioner, remote BackupLister, interval time.Duration, clk clock.Clock) *VersionWatch {
	if interval <= 0 {
		interval = time.Hour
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &VersionWatch{
		runner:   runner,
		core:     core,
		remote:   remote,
		interval: interval,
		clock:    clk,
		logger:   logging.WithComponent("version-watch"),
	}
}

// Start begins checking.
func (w *VersionWatch) Start(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("Starting version watch")
	return w.start(ctx, w.loop)
}

// Stop stops checking and waits for an in-flight check.
func (w *VersionWatch) Stop() error {
	w.stop()
	return nil
}

// Seen returns the last version the watch acted on.
func (w *VersionWatch) Seen() string {
	w.seenMu.Lock()
	defer w.seenMu.Unlock()
	return w.seen
}

func (w *VersionWatch) remember(v string) {
	w.seenMu.Lock()
	w.seen = v
	w.seenMu.Unlock()
}

func (w *VersionWatch) loop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-w.clock.After(w.interval):
			w.Check(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Check compares versions once and triggers a backup on a change. It reports
// whether a run was attempted.
func (w *VersionWatch) Check(ctx context.Context) bool {
	current, err := w.core.CoreVersion(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Could not read core version")
		return false
	}
	if current == "" || current == w.Seen() {
		return false
	}

	backups, err := w.remote.List(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Could not list remote backups")
		return false
	}
	newest, ok := newestBackup(backups)
	if !ok {
		// The daily schedule takes the first backup.
		w.remember(current)
		return false
	}
	if newest.SourceVersion == current {
		w.remember(current)
		return false
	}

	w.logger.Info().
		Str("core_version", current).
		Str("backup_version", newest.SourceVersion).
		Msg("Core version changed, triggering backup")
	if !fire(ctx, w.runner, orchestrator.TriggerPreUpdate, w.logger) {
		return false
	}
	w.remember(current)
	return true
}

func newestBackup(backups []backend.RemoteBackup) (backend.RemoteBackup, bool) {
	var (
		newest backend.RemoteBackup
		found  bool
	)
	for _, b := range backups {
		if !found || b.CreatedAt.After(newest.CreatedAt) {
			newest = b
			found = true
		}
	}
	return newest, found
}

// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package scheduler triggers backup runs on a daily time-of-day schedule and
// when the Home Assistant Core version changes.
//
// Both triggers call the same orchestrator entry point. A trigger that lands
// while another run is active is logged and skipped; the next evaluation
// proceeds independently of any earlier failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/orchestrator"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

// Runner executes one backup synchronously.
type Runner interface {
	Run(ctx context.Context, trigger orchestrator.Trigger) (history.RunRecord, error)
}

// lifecycle is the Start/Stop plumbing shared by the daily schedule and the
// version watch.
type lifecycle struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func (l *lifecycle) start(ctx context.Context, loop func(ctx context.Context, stop <-chan struct{})) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("already running")
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	stop, done := l.stopCh, l.doneCh
	go func() {
		defer close(done)
		loop(ctx, stop)
	}()
	return nil
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop, done := l.stopCh, l.doneCh
	l.mu.Unlock()

	close(stop)
	<-done
}

// Scheduler fires the daily backup and, optionally, one backup at startup.
type Scheduler struct {
	runner Runner
	cfg    config.ScheduleConfig
	hour   int
	minute int
	clock  clock.Clock
	logger zerolog.Logger

	lifecycle

	nextMu sync.RWMutex
	next   time.Time
}

// New creates a Scheduler. BackupTime must parse as HH:MM.
func New(runner Runner, cfg config.ScheduleConfig, clk clock.Clock) (*Scheduler, error) {
	hour, minute, err := cfg.BackupClock()
	if err != nil {
		return nil, runerr.New(runerr.KindConfiguration, "schedule", "invalid backup time", err)
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		hour:   hour,
		minute: minute,
		clock:  clk,
		logger: logging.WithComponent("scheduler"),
	}, nil
}

// NextRun returns the first HH:MM occurrence strictly after now, in now's
// location.
func NextRun(now time.Time, hour, minute int) time.Time {
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// Next returns the time of the next scheduled run, or zero when the daily
// schedule is off or not yet started.
func (s *Scheduler) Next() time.Time {
	s.nextMu.RLock()
	defer s.nextMu.RUnlock()
	return s.next
}

func (s *Scheduler) setNext(t time.Time) {
	s.nextMu.Lock()
	s.next = t
	s.nextMu.Unlock()
}

// Start begins the schedule loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Bool("auto_backup", s.cfg.AutoBackup).
		Bool("backup_on_start", s.cfg.BackupOnStart).
		Str("backup_time", s.cfg.BackupTime).
		Dur("check_interval", s.cfg.CheckInterval).
		Msg("Starting backup scheduler")
	return s.start(ctx, s.loop)
}

// Stop stops the loop and waits for it. A run in progress finishes first.
func (s *Scheduler) Stop() error {
	s.stop()
	s.logger.Info().Msg("Backup scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	if s.cfg.BackupOnStart {
		s.logger.Info().Msg("Performing initial backup")
		fire(ctx, s.runner, orchestrator.TriggerScheduled, s.logger)
	}
	if !s.cfg.AutoBackup {
		s.logger.Info().Msg("Daily backup disabled")
		select {
		case <-stop:
		case <-ctx.Done():
		}
		return
	}

	s.setNext(NextRun(s.clock.Now(), s.hour, s.minute))
	s.logger.Info().Time("next_run", s.Next()).Msg("Scheduled daily backup")

	for {
		select {
		case <-s.clock.After(s.cfg.CheckInterval):
			now := s.clock.Now()
			if now.Before(s.Next()) {
				continue
			}
			fire(ctx, s.runner, orchestrator.TriggerScheduled, s.logger)
			s.setNext(NextRun(s.clock.Now(), s.hour, s.minute))
			s.logger.Info().Time("next_run", s.Next()).Msg("Next daily backup scheduled")
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fire runs one backup and logs the outcome. It reports whether the run was
// attempted; false means another run held the guard.
func fire(ctx context.Context, runner Runner, trigger orchestrator.Trigger, log zerolog.Logger) bool {
	rec, err := runner.Run(ctx, trigger)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		log.Info().Str("trigger", string(trigger)).Msg("Skipping trigger, a run is already in progress")
		return false
	case err != nil:
		log.Error().Err(err).
			Str("trigger", string(trigger)).
			Str("run_id", rec.RunID).
			Str("kind", runerr.KindOf(err).String()).
			Msg("Triggered backup failed")
	default:
		log.Info().
			Str("trigger", string(trigger)).
			Str("run_id", rec.RunID).
			Str("backup_id", rec.BackupID).
			Msg("Triggered backup succeeded")
	}
	return true
}

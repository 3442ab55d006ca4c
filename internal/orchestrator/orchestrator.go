// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/homesafe-connector/internal/configsync"
	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/locator"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/source"
	"github.com/tomtom215/homesafe-connector/internal/uploader"
)

// ErrRunInProgress rejects a trigger while another run holds the guard.
var ErrRunInProgress = errors.New("a backup run is already in progress")

// cleanupTimeout bounds the delete and retention sweep. Cleanup runs even
// when the run context was cancelled.
const cleanupTimeout = 2 * time.Minute

// Locator resolves a backup request to a snapshot handle.
type Locator interface {
	Locate(ctx context.Context, req locator.Request) (locator.Handle, error)
}

// Source streams and removes local snapshots.
type Source interface {
	Download(ctx context.Context, slug string) (*source.Download, error)
	Delete(ctx context.Context, slug string) (bool, error)
}

// Uploader moves a snapshot stream to the backend.
type Uploader interface {
	Upload(ctx context.Context, h locator.Handle, s uploader.Stream, meta uploader.Meta) (uploader.Result, error)
}

// Retention bounds the local snapshot count.
type Retention interface {
	Enforce(ctx context.Context, limit int) ([]string, error)
}

// SideSync is the post-success configuration sync.
type SideSync interface {
	Enabled() bool
	Sync(ctx context.Context, runID string) (configsync.Result, error)
}

// History persists run records.
type History interface {
	Save(ctx context.Context, rec history.RunRecord) error
	Recent(ctx context.Context, limit int) ([]history.RunRecord, error)
}

// Deps are the collaborators of an Orchestrator. SideSync and History are
// optional.
type Deps struct {
	Locator   Locator
	Source    Source
	Uploader  Uploader
	Retention Retention
	SideSync  SideSync
	History   History
	Clock     clock.Clock
}

// Options tune an Orchestrator.
type Options struct {
	RetentionLimit int
}

// CurrentRun describes the run in flight.
type CurrentRun struct {
	RunID     string    `json:"run_id"`
	Trigger   Trigger   `json:"trigger"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Totals count runs since process start.
type Totals struct {
	Runs      int64 `json:"runs"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Current *CurrentRun        `json:"current,omitempty"`
	Last    *history.RunRecord `json:"last,omitempty"`
	Totals  Totals             `json:"totals"`
}

// Orchestrator sequences backup runs. One instance serves every trigger
// path; at most one run executes at a time.
type Orchestrator struct {
	deps           Deps
	clock          clock.Clock
	retentionLimit int

	guard *semaphore.Weighted

	mu      sync.RWMutex
	current *CurrentRun
	last    *history.RunRecord
	totals  Totals

	// Background runs started by Trigger live under this context.
	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:           deps,
		clock:          deps.Clock,
		retentionLimit: opts.RetentionLimit,
		guard:          semaphore.NewWeighted(1),
		lifetime:       ctx,
		stop:           cancel,
	}
}

// Run executes one backup synchronously and returns its record. The error
// is the classified failure, or ErrRunInProgress when another run is active.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (history.RunRecord, error) {
	if !o.guard.TryAcquire(1) {
		o.reject(trigger)
		return history.RunRecord{}, ErrRunInProgress
	}
	defer o.guard.Release(1)
	return o.execute(ctx, logging.NewRunID(), trigger)
}

// Trigger starts a run in the background and returns its ID immediately.
func (o *Orchestrator) Trigger(trigger Trigger) (string, error) {
	if o.lifetime.Err() != nil {
		return "", errors.New("orchestrator is shutting down")
	}
	if !o.guard.TryAcquire(1) {
		o.reject(trigger)
		return "", ErrRunInProgress
	}

	runID := logging.NewRunID()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.guard.Release(1)
		_, _ = o.execute(o.lifetime, runID, trigger)
	}()
	return runID, nil
}

// Close cancels background runs and waits for them to finish cleanup.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns the current run, the last result and totals.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{Totals: o.totals}
	if o.current != nil {
		cur := *o.current
		st.Current = &cur
	}
	if o.last != nil {
		last := *o.last
		st.Last = &last
	}
	return st
}

// Recent returns persisted run records, newest first.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]history.RunRecord, error) {
	if o.deps.History == nil {
		return nil, nil
	}
	return o.deps.History.Recent(ctx, limit)
}

func (o *Orchestrator) reject(trigger Trigger) {
	metrics.RecordRejectedRun(string(trigger))
	o.mu.Lock()
	o.totals.Rejected++
	o.mu.Unlock()
	logging.Warn().Str("trigger", string(trigger)).Msg("Backup trigger rejected, a run is already in progress")
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.current != nil {
		o.current.State = s
	}
	o.mu.Unlock()
}

func (o *Orchestrator) finish(rec history.RunRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = nil
	o.last = &rec
	o.totals.Runs++
	if rec.Success {
		o.totals.Succeeded++
	} else {
		o.totals.Failed++
	}
}

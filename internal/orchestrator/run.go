// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/locator"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
	"github.com/tomtom215/homesafe-connector/internal/uploader"
)

// State is a step of a backup run.
type State string

// Run states, in order. Failed is reachable from Locating, Downloading and
// Uploading.
const (
	StateLocating    State = "locating"
	StateDownloading State = "downloading"
	StateUploading   State = "uploading"
	StateCleaningUp  State = "cleaning_up"
	StateSideSync    State = "side_sync"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Trigger is why a run started. It is bookkeeping only.
type Trigger string

// Triggers.
const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerPreUpdate Trigger = "pre_update"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerPreUpdate:
		return true
	}
	return false
}

// run carries the per-run record being built.
type run struct {
	o   *Orchestrator
	rec history.RunRecord
	log zerolog.Logger
}

func (r *run) enter(s State) {
	r.rec.Transitions = append(r.rec.Transitions, history.Transition{State: string(s), At: r.o.clock.Now()})
	r.o.setState(s)
	r.log.Debug().Str("state", string(s)).Msg("Run state changed")
}

// fail records err as the outcome. from is the state the run failed in.
func (r *run) fail(from State, err error) {
	r.rec.Success = false
	r.rec.FailedIn = string(from)
	r.rec.Error = err.Error()
	var re *runerr.Error
	if errors.As(err, &re) {
		r.rec.ErrorKind = re.Kind.String()
		r.rec.ErrorPhase = re.Phase
	} else {
		r.rec.ErrorKind = runerr.KindUnknown.String()
	}
	r.log.Error().
		Err(err).
		Str("kind", r.rec.ErrorKind).
		Str("phase", r.rec.ErrorPhase).
		Str("failed_in", r.rec.FailedIn).
		Str("slug", r.rec.Slug).
		Str("backup_id", r.rec.BackupID).
		Msg("Backup run failed")
}

// execute runs one backup. The caller holds the guard.
func (o *Orchestrator) execute(ctx context.Context, runID string, trigger Trigger) (history.RunRecord, error) {
	ctx = logging.ContextWithRunID(ctx, runID, string(trigger))
	start := o.clock.Now()

	r := &run{
		o:   o,
		log: *logging.Ctx(ctx),
		rec: history.RunRecord{RunID: runID, Trigger: string(trigger), StartedAt: start},
	}

	o.mu.Lock()
	o.current = &CurrentRun{RunID: runID, Trigger: trigger, StartedAt: start}
	o.mu.Unlock()
	metrics.RunActive.Set(1)
	defer metrics.RunActive.Set(0)

	r.log.Info().Msg("=== Starting backup workflow ===")
	err := o.steps(ctx, r, trigger)

	if err == nil {
		r.rec.Success = true
		r.enter(StateDone)
	} else {
		r.enter(StateFailed)
	}
	r.rec.FinalState = r.rec.Transitions[len(r.rec.Transitions)-1].State
	r.rec.FinishedAt = o.clock.Now()
	dur := r.rec.FinishedAt.Sub(start)
	r.rec.DurationMS = dur.Milliseconds()

	metrics.RecordRun(string(trigger), r.rec.Success, r.rec.ErrorKind, dur)
	if o.deps.History != nil {
		if herr := o.deps.History.Save(context.WithoutCancel(ctx), r.rec); herr != nil {
			r.log.Warn().Err(herr).Msg("Failed to persist run record")
		}
	}
	o.finish(r.rec)

	r.log.Info().
		Bool("success", r.rec.Success).
		Dur("duration", dur).
		Int64("bytes_sent", r.rec.BytesSent).
		Str("backup_id", r.rec.BackupID).
		Msg("=== Backup workflow completed ===")
	return r.rec, err
}

// steps walks the state machine. Upload failures still pass through
// cleanup before being returned.
func (o *Orchestrator) steps(ctx context.Context, r *run, trigger Trigger) error {
	r.enter(StateLocating)
	h, err := o.deps.Locator.Locate(ctx, locator.NewRequest(o.clock.Now()))
	if err != nil {
		r.fail(StateLocating, err)
		return err
	}
	r.rec.Slug = h.Slug
	r.rec.Strategy = string(h.Strategy)
	r.rec.SourceVersion = h.SourceVersion
	r.log = r.log.With().Str("slug", h.Slug).Logger()

	r.enter(StateDownloading)
	dl, err := o.deps.Source.Download(ctx, h.Slug)
	if err != nil {
		if runerr.KindOf(err) == runerr.KindUnknown {
			err = runerr.New(runerr.KindUpstreamRejected, "download", "snapshot download failed", err)
		}
		r.fail(StateDownloading, err)
		return err
	}
	size, err := uploader.ResolveSize(dl.ContentLength, h.SizeBytes)
	if err != nil {
		_ = dl.Body.Close()
		r.fail(StateDownloading, err)
		return err
	}
	r.rec.SizeBytes = size
	r.log.Info().Int64("size_bytes", size).Msg("Snapshot stream opened")

	r.enter(StateUploading)
	res, uerr := o.deps.Uploader.Upload(ctx, h, uploader.Stream{Body: dl.Body, Length: size},
		uploader.Meta{SourceVersion: h.SourceVersion, Trigger: string(trigger)})
	_ = dl.Body.Close()
	r.rec.BackupID = res.BackupID
	r.rec.Destination = string(res.Kind)
	r.rec.BytesSent = res.BytesSent
	r.rec.ChunkCount = res.ChunkCount
	if uerr != nil {
		r.fail(StateUploading, uerr)
	}

	r.enter(StateCleaningUp)
	o.cleanup(ctx, r, h.Slug)

	if uerr != nil {
		return uerr
	}

	if o.deps.SideSync == nil || !o.deps.SideSync.Enabled() {
		r.rec.SideSync = "disabled"
		return nil
	}
	r.enter(StateSideSync)
	if _, err := o.deps.SideSync.Sync(ctx, r.rec.RunID); err != nil {
		r.rec.SideSync = "failed"
		r.rec.SideSyncError = err.Error()
		r.log.Warn().Err(err).Str("kind", runerr.KindOf(err).String()).Msg("Config sync failed, backup result unaffected")
	} else {
		r.rec.SideSync = "ok"
	}
	return nil
}

// cleanup deletes the run's snapshot and sweeps old ones. Failures are
// logged and recorded, never returned.
func (o *Orchestrator) cleanup(ctx context.Context, r *run, slug string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	deleted, err := o.deps.Source.Delete(cctx, slug)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("delete %s: %w", slug, err))
		r.log.Warn().Err(err).Msg("Failed to delete local snapshot")
	case deleted:
		r.rec.SnapshotDeleted = true
		r.log.Info().Msg("Local snapshot deleted")
	default:
		r.rec.SnapshotDeleted = true
		r.log.Info().Msg("Local snapshot already gone")
	}

	removed, err := o.deps.Retention.Enforce(cctx, o.retentionLimit)
	r.rec.RetentionRemoved = removed
	if err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
		r.log.Warn().Err(err).Msg("Retention sweep incomplete")
	}
	if len(errs) > 0 {
		r.rec.CleanupError = errors.Join(errs...).Error()
	}
}

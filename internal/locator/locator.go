// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package locator resolves a freshly issued backup request to a concrete
// snapshot slug.
//
// The Supervisor's create call answers in one of three shapes: a slug
// (synchronous), a job ID (asynchronous), or neither. Jobs are polled until
// they reach a terminal state; jobs that stall, including the ones that sit
// in the literal "unknown" state, escalate once to a listing-based fallback
// that looks for a backup with the expected name created no earlier than
// the request. Every wait is bounded.
package locator

import (
	"context"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
	"github.com/tomtom215/homesafe-connector/internal/source"
)

// NamePrefix starts every backup name the connector creates.
const NamePrefix = "HomeSafe-"

// Source is the subset of the Supervisor client the locator needs.
type Source interface {
	Create(ctx context.Context, name string, compressed bool) (source.CreateResult, error)
	GetJob(ctx context.Context, jobID string) (source.Job, error)
	List(ctx context.Context) ([]source.Snapshot, error)
	Info(ctx context.Context, slug string) (source.Info, error)
}

// Request is one backup creation request. Immutable once built.
type Request struct {
	Name       string
	CreatedAt  time.Time
	Compressed bool
}

// NewRequest builds the request for a run starting at now.
func NewRequest(now time.Time) Request {
	return Request{
		Name:       NamePrefix + now.Local().Format("20060102-150405"),
		CreatedAt:  now,
		Compressed: true,
	}
}

// Strategy records which path resolved a handle.
type Strategy string

// Resolution strategies.
const (
	StrategySync    Strategy = "sync"
	StrategyJob     Strategy = "job"
	StrategyListing Strategy = "listing"
)

// Handle identifies a resolved snapshot. Every later operation refers to the
// snapshot through Slug alone.
type Handle struct {
	Slug          string
	DiscoveredAt  time.Time
	SizeBytes     int64
	SourceVersion string
	Strategy      Strategy
}

// Locator resolves requests to handles.
type Locator struct {
	src   Source
	cfg   config.LocatorConfig
	clock clock.Clock
}

// New creates a Locator. A nil clock means the wall clock.
func New(src Source, cfg config.LocatorConfig, clk clock.Clock) *Locator {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Locator{src: src, cfg: cfg, clock: clk}
}

// Locate issues the create call for req and resolves it to a handle.
func (l *Locator) Locate(ctx context.Context, req Request) (Handle, error) {
	log := logging.Ctx(ctx)
	log.Info().Str("name", req.Name).Msg("Creating snapshot")

	res, err := l.src.Create(ctx, req.Name, req.Compressed)
	if err != nil {
		return Handle{}, runerr.New(runerr.KindUpstreamRejected, "locate", "backup create call failed", err)
	}

	var (
		slug     string
		strategy Strategy
	)
	switch {
	case res.Slug != "":
		slug, strategy = res.Slug, StrategySync
		log.Info().Str("slug", slug).Msg("Snapshot created synchronously")

	case res.JobID != "":
		log.Info().Str("job_id", res.JobID).Msg("Backup job started, polling for completion")
		ref, escalate, err := l.awaitJob(ctx, res.JobID)
		if err != nil {
			return Handle{}, err
		}
		if escalate {
			ref, err = l.discover(ctx, req)
			if err != nil {
				return Handle{}, err
			}
			strategy = StrategyListing
		} else {
			strategy = StrategyJob
		}
		slug = ref

	default:
		return Handle{}, runerr.Newf(runerr.KindUpstreamRejected, "locate",
			"create response for %s carried neither a job id nor a slug", req.Name)
	}

	metrics.LocatorResolutions.WithLabelValues(string(strategy)).Inc()
	return l.describe(ctx, slug, strategy), nil
}

// describe fills size and version from the snapshot info. Best effort: the
// uploader can still size the stream from the download response.
func (l *Locator) describe(ctx context.Context, slug string, strategy Strategy) Handle {
	h := Handle{
		Slug:          slug,
		DiscoveredAt:  l.clock.Now(),
		SourceVersion: "unknown",
		Strategy:      strategy,
	}
	info, err := l.src.Info(ctx, slug)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("slug", slug).Msg("Could not fetch snapshot info")
		return h
	}
	h.SizeBytes = info.SizeBytes
	if info.SourceVersion != "" {
		h.SourceVersion = info.SourceVersion
	}
	return h
}

// awaitJob polls jobID until it completes, fails, or the async budget runs
// out. escalate is true when the caller should fall back to listing.
func (l *Locator) awaitJob(ctx context.Context, jobID string) (ref string, escalate bool, err error) {
	log := logging.Ctx(ctx).With().Str("job_id", jobID).Logger()

	start := l.clock.Now()
	deadline := start.Add(l.cfg.AsyncWait)
	lastPoll := start
	var unknownFor time.Duration

	for {
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			return "", false, runerr.New(runerr.KindLocatorTimeout, "locate", "job polling interrupted", err)
		}

		now := l.clock.Now()
		sincePrev := now.Sub(lastPoll)
		lastPoll = now

		metrics.LocatorPolls.WithLabelValues("job").Inc()
		job, err := l.src.GetJob(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", false, runerr.New(runerr.KindLocatorTimeout, "locate", "job polling interrupted", ctx.Err())
			}
			// Transient; does not count toward the stuck detector.
			log.Warn().Err(err).Msg("Error checking job status, will retry")

		case job.State == source.JobCompleted:
			if job.Reference != "" {
				log.Info().Str("slug", job.Reference).Msg("Backup job completed")
				return job.Reference, false, nil
			}
			log.Warn().Msg("Job completed without a reference, falling back to listing")
			return "", true, nil

		case job.State == source.JobFailed:
			return "", false, runerr.Newf(runerr.KindJobFailed, "locate",
				"backup job %s failed: %s", jobID, job.ErrorDetail())

		case job.State == source.JobUnknown:
			unknownFor += sincePrev
			log.Debug().Dur("unknown_for", unknownFor).Int("progress", job.Progress).Msg("Job state unknown")
			if unknownFor >= l.cfg.AsyncWait {
				log.Warn().Dur("unknown_for", unknownFor).Msg("Job stuck in unknown state, falling back to listing")
				return "", true, nil
			}

		default:
			log.Debug().Str("state", string(job.State)).Int("progress", job.Progress).Msg("Job in progress")
		}

		if !l.clock.Now().Before(deadline) {
			log.Warn().Dur("waited", l.clock.Now().Sub(start)).Msg("Async wait budget exhausted, falling back to listing")
			return "", true, nil
		}
	}
}

func (l *Locator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-l.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

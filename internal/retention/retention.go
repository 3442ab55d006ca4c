// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package retention bounds the number of snapshots kept on local disk.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/source"
)

// DefaultLimit is the number of local snapshots kept when none is configured.
const DefaultLimit = 3

// Source lists and removes local snapshots.
type Source interface {
	List(ctx context.Context) ([]source.Snapshot, error)
	Delete(ctx context.Context, slug string) (bool, error)
}

// Manager enforces the local retention limit.
type Manager struct {
	src Source
}

// New creates a Manager.
func New(src Source) *Manager {
	return &Manager{src: src}
}

// Enforce keeps the newest limit snapshots and removes the rest. It works
// from a fresh listing every call, so re-running after a partial sweep
// finishes the job. A failed removal does not stop the sweep; all removal
// errors are returned joined.
func (m *Manager) Enforce(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	snaps, err := m.src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local snapshots: %w", err)
	}
	if len(snaps) <= limit {
		return nil, nil
	}

	newestFirst(snaps)
	log := logging.Ctx(ctx)

	var (
		removed []string
		errs    []error
	)
	for _, s := range snaps[limit:] {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		deleted, err := m.src.Delete(ctx, s.Slug)
		if err != nil {
			log.Warn().Err(err).Str("slug", s.Slug).Msg("Failed to delete old local snapshot")
			errs = append(errs, fmt.Errorf("delete %s: %w", s.Slug, err))
			continue
		}
		if deleted {
			log.Info().Str("slug", s.Slug).Str("date", s.Date).Msg("Deleted old local snapshot")
			metrics.RetentionRemoved.Inc()
			removed = append(removed, s.Slug)
		}
	}
	return removed, errors.Join(errs...)
}

// newestFirst orders snapshots by reported date, newest first. Snapshots
// with unreadable dates go last; ties keep list order.
func newestFirst(snaps []source.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		ti, okI := snaps[i].CreatedAt()
		tj, okJ := snaps[j].CreatedAt()
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI != okJ:
			return okI
		default:
			return false
		}
	})
}

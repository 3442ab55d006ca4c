// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package locator

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
	"github.com/tomtom215/homesafe-connector/internal/source"
)

// discover re-lists backups until one matches req or the fallback budget
// runs out. The first listing is issued immediately.
func (l *Locator) discover(ctx context.Context, req Request) (string, error) {
	log := logging.Ctx(ctx).With().Str("name", req.Name).Logger()
	log.Info().Dur("budget", l.cfg.FallbackWait).Msg("Searching backup listing for snapshot")

	deadline := l.clock.Now().Add(l.cfg.FallbackWait)
	for attempt := 1; ; attempt++ {
		metrics.LocatorPolls.WithLabelValues("listing").Inc()
		snaps, err := l.src.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", runerr.New(runerr.KindLocatorTimeout, "locate", "listing discovery interrupted", ctx.Err())
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("Backup listing failed, will retry")
		} else if snap, ok := matchSnapshot(snaps, req); ok {
			log.Info().Str("slug", snap.Slug).Int("attempt", attempt).Msg("Snapshot found in listing")
			return snap.Slug, nil
		}

		if l.clock.Now().Add(l.cfg.FallbackInterval).After(deadline) {
			break
		}
		if err := l.sleep(ctx, l.cfg.FallbackInterval); err != nil {
			return "", runerr.New(runerr.KindLocatorTimeout, "locate", "listing discovery interrupted", err)
		}
	}

	return "", runerr.Newf(runerr.KindLocatorTimeout, "locate",
		"no backup named %s created after %s appeared within %s",
		req.Name, req.CreatedAt.UTC().Format(time.RFC3339), l.cfg.FallbackWait)
}

// matchSnapshot returns the first snapshot, in list order, whose name starts
// with the request name and whose creation time is not before the request.
// The request time is truncated to whole seconds since the Supervisor
// reports second precision.
func matchSnapshot(snaps []source.Snapshot, req Request) (source.Snapshot, bool) {
	start := req.CreatedAt.Truncate(time.Second)
	for _, s := range snaps {
		if !strings.HasPrefix(s.Name, req.Name) {
			continue
		}
		created, ok := s.CreatedAt()
		if !ok || created.Before(start) {
			continue
		}
		return s, true
	}
	return source.Snapshot{}, false
}

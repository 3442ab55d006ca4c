// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package retention

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/homesafe-connector/internal/metrics"
	"github.com/tomtom215/homesafe-connector/internal/source"
)

type fakeSource struct {
	snaps     []source.Snapshot
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeSource) List(context.Context) ([]source.Snapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.snaps), nil
}

func (f *fakeSource) Delete(_ context.Context, slug string) (bool, error) {
	if err := f.deleteErr[slug]; err != nil {
		return false, err
	}
	idx := slices.IndexFunc(f.snaps, func(s source.Snapshot) bool { return s.Slug == slug })
	if idx < 0 {
		return false, nil
	}
	f.snaps = slices.Delete(f.snaps, idx, idx+1)
	f.deleted = append(f.deleted, slug)
	return true, nil
}

func fiveSnapshots() []source.Snapshot {
	return []source.Snapshot{
		{Slug: "d3", Date: "2025-01-03T03:00:00+00:00"},
		{Slug: "d1", Date: "2025-01-01T03:00:00+00:00"},
		{Slug: "d5", Date: "2025-01-05T03:00:00+00:00"},
		{Slug: "d2", Date: "2025-01-02T03:00:00+00:00"},
		{Slug: "d4", Date: "2025-01-04T03:00:00+00:00"},
	}
}

func TestEnforceRemovesOldest(t *testing.T) {
	src := &fakeSource{snaps: fiveSnapshots()}
	before := testutil.ToFloat64(metrics.RetentionRemoved)

	removed, err := New(src).Enforce(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slices.Sort(removed)
	if !slices.Equal(removed, []string{"d1", "d2"}) {
		t.Errorf("expected d1 and d2 removed, got %v", removed)
	}
	if len(src.snaps) != 3 {
		t.Errorf("expected 3 snapshots left, got %d", len(src.snaps))
	}
	if got := testutil.ToFloat64(metrics.RetentionRemoved) - before; got != 2 {
		t.Errorf("expected removed counter +2, got %v", got)
	}
}

func TestEnforceIsIdempotent(t *testing.T) {
	src := &fakeSource{snaps: fiveSnapshots()}
	m := New(src)

	if _, err := m.Enforce(context.Background(), 3); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	removed, err := m.Enforce(context.Background(), 3)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("expected nothing removed on second sweep, got %v", removed)
	}
}

func TestEnforceUnderLimit(t *testing.T) {
	src := &fakeSource{snaps: fiveSnapshots()[:2]}
	removed, err := New(src).Enforce(context.Background(), 3)
	if err != nil || len(removed) != 0 {
		t.Errorf("expected no-op, got %v, %v", removed, err)
	}
}

func TestEnforceDefaultsNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		src := &fakeSource{snaps: fiveSnapshots()}
		removed, err := New(src).Enforce(context.Background(), limit)
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		if len(removed) != 2 {
			t.Errorf("limit %d: expected default limit 3 to remove 2, got %v", limit, removed)
		}
	}
}

func TestEnforceContinuesAfterDeleteFailure(t *testing.T) {
	boom := errors.New("supervisor busy")
	src := &fakeSource{snaps: fiveSnapshots(), deleteErr: map[string]error{"d2": boom}}

	removed, err := New(src).Enforce(context.Background(), 3)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap delete failure, got %v", err)
	}
	if !slices.Equal(removed, []string{"d1"}) {
		t.Errorf("expected d1 still removed, got %v", removed)
	}
}

func TestEnforceListFailure(t *testing.T) {
	src := &fakeSource{listErr: errors.New("unreachable")}
	if _, err := New(src).Enforce(context.Background(), 3); err == nil {
		t.Fatal("expected list error")
	}
}

func TestNewestFirstOrdering(t *testing.T) {
	snaps := []source.Snapshot{
		{Slug: "bad", Date: "not a date"},
		{Slug: "old", Date: "2024-01-01T00:00:00Z"},
		{Slug: "tieA", Date: "2025-01-01T00:00:00Z"},
		{Slug: "tieB", Date: "2025-01-01T00:00:00Z"},
		{Slug: "new", Date: "2025-06-01 12:00:00"},
	}
	newestFirst(snaps)

	var got []string
	for _, s := range snaps {
		got = append(got, s.Slug)
	}
	want := []string{"new", "tieA", "tieB", "old", "bad"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

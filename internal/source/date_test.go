// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package source

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-01-01T03:00:00+00:00", time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC), true},
		{"2025-01-01T04:00:00+01:00", time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC), true},
		{"2025-01-01T03:00:00.5Z", time.Date(2025, 1, 1, 3, 0, 0, 500000000, time.UTC), true},
		{"2025-01-01T03:00:00", time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC), true},
		{"2025-01-01 03:00:00", time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSnapshotCreatedAt(t *testing.T) {
	s := Snapshot{Slug: "a", Date: "2025-03-01T10:00:00.123456+00:00"}
	got, ok := s.CreatedAt()
	if !ok || got.Hour() != 10 {
		t.Errorf("expected 10:00 UTC, got %v (ok=%v)", got, ok)
	}
	if _, ok := (Snapshot{Date: "garbage"}).CreatedAt(); ok {
		t.Error("expected garbage date to be rejected")
	}
}

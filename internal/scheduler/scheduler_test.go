// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/config"
	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/orchestrator"
)

// mockRunner records triggers.
type mockRunner struct {
	mu       sync.Mutex
	triggers []orchestrator.Trigger
	err      error
	ran      chan orchestrator.Trigger
}

func newMockRunner() *mockRunner {
	return &mockRunner{ran: make(chan orchestrator.Trigger, 16)}
}

func (m *mockRunner) Run(_ context.Context, trigger orchestrator.Trigger) (history.RunRecord, error) {
	m.mu.Lock()
	m.triggers = append(m.triggers, trigger)
	err := m.err
	m.mu.Unlock()
	m.ran <- trigger
	return history.RunRecord{RunID: "run-" + string(trigger)}, err
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.triggers)
}

// manualClock reports a settable Now while timers run on the wall clock.
type manualClock struct {
	clock.Clock
	mu  sync.Mutex
	now time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{Clock: clock.WallClock, now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func waitRun(t *testing.T, r *mockRunner) orchestrator.Trigger {
	t.Helper()
	select {
	case tr := <-r.ran:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a run")
		return ""
	}
}

func waitNext(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Next().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never computed its next run")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2026, 3, 1, 1, 0, 0, 0, loc), time.Date(2026, 3, 1, 3, 0, 0, 0, loc)},
		{"already passed", time.Date(2026, 3, 1, 4, 0, 0, 0, loc), time.Date(2026, 3, 2, 3, 0, 0, 0, loc)},
		{"exactly now", time.Date(2026, 3, 1, 3, 0, 0, 0, loc), time.Date(2026, 3, 2, 3, 0, 0, 0, loc)},
		{"month rollover", time.Date(2026, 3, 31, 23, 0, 0, 0, loc), time.Date(2026, 4, 1, 3, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, 3, 0); !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewRejectsBadBackupTime(t *testing.T) {
	if _, err := New(newMockRunner(), config.ScheduleConfig{BackupTime: "3am"}, nil); err == nil {
		t.Error("expected error for malformed backup time")
	}
}

func TestSchedulerBackupOnStart(t *testing.T) {
	r := newMockRunner()
	s, err := New(r, config.ScheduleConfig{
		BackupTime:    "03:00",
		BackupOnStart: true,
		CheckInterval: 10 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()

	if tr := waitRun(t, r); tr != orchestrator.TriggerScheduled {
		t.Errorf("expected scheduled trigger, got %s", tr)
	}
	time.Sleep(50 * time.Millisecond)
	if r.count() != 1 {
		t.Errorf("expected exactly one run with the daily schedule off, got %d", r.count())
	}
	if !s.Next().IsZero() {
		t.Errorf("expected no next run with auto backup off, got %v", s.Next())
	}
}

func TestSchedulerFiresWhenDue(t *testing.T) {
	r := newMockRunner()
	clk := newManualClock(time.Date(2026, 3, 1, 2, 59, 0, 0, time.UTC))
	s, err := New(r, config.ScheduleConfig{
		AutoBackup:    true,
		BackupTime:    "03:00",
		CheckInterval: 5 * time.Millisecond,
	}, clk)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()

	waitNext(t, s)
	time.Sleep(30 * time.Millisecond)
	if r.count() != 0 {
		t.Fatalf("expected no run before 03:00, got %d", r.count())
	}

	clk.Set(time.Date(2026, 3, 1, 3, 0, 30, 0, time.UTC))
	waitRun(t, r)

	time.Sleep(30 * time.Millisecond)
	if r.count() != 1 {
		t.Errorf("expected one run per day, got %d", r.count())
	}
	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	if !s.Next().Equal(want) {
		t.Errorf("expected next run %v, got %v", want, s.Next())
	}
}

func TestSchedulerSurvivesRunFailure(t *testing.T) {
	r := newMockRunner()
	r.err = errors.New("boom")
	clk := newManualClock(time.Date(2026, 3, 1, 3, 0, 30, 0, time.UTC))
	s, err := New(r, config.ScheduleConfig{
		AutoBackup:    true,
		BackupTime:    "03:00",
		BackupOnStart: true,
		CheckInterval: 5 * time.Millisecond,
	}, clk)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()

	waitRun(t, r)
	waitNext(t, s)
	clk.Set(time.Date(2026, 3, 2, 3, 1, 0, 0, time.UTC))
	waitRun(t, r)
}

func TestSchedulerStartTwice(t *testing.T) {
	s, err := New(newMockRunner(), config.ScheduleConfig{BackupTime: "03:00", CheckInterval: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected second Start to fail")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("expected Stop to be idempotent, got %v", err)
	}
}

type fakeCore struct {
	version string
	err     error
}

func (f *fakeCore) CoreVersion(context.Context) (string, error) { return f.version, f.err }

type fakeLister struct {
	backups []backend.RemoteBackup
	err     error
	calls   int
}

func (f *fakeLister) List(context.Context) ([]backend.RemoteBackup, error) {
	f.calls++
	return f.backups, f.err
}

func TestVersionWatchCheck(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 3, 0, 0, 0, time.UTC) }

	t.Run("triggers pre_update on mismatch", func(t *testing.T) {
		r := newMockRunner()
		lister := &fakeLister{backups: []backend.RemoteBackup{
			{SourceVersion: "2024.5.0", CreatedAt: day(1)},
			{SourceVersion: "2024.6.0", CreatedAt: day(3)},
			{SourceVersion: "2024.4.0", CreatedAt: day(2)},
		}}
		w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, lister, time.Hour, nil)

		if !w.Check(context.Background()) {
			t.Fatal("expected a run on version change")
		}
		if tr := <-r.ran; tr != orchestrator.TriggerPreUpdate {
			t.Errorf("expected pre_update trigger, got %s", tr)
		}
		if w.Seen() != "2024.7.0" {
			t.Errorf("expected remembered version 2024.7.0, got %q", w.Seen())
		}

		if w.Check(context.Background()) {
			t.Error("expected no second run for the same version")
		}
		if lister.calls != 1 {
			t.Errorf("expected remembered version to skip listing, got %d calls", lister.calls)
		}
	})

	t.Run("no run when newest backup matches", func(t *testing.T) {
		r := newMockRunner()
		lister := &fakeLister{backups: []backend.RemoteBackup{
			{SourceVersion: "2024.5.0", CreatedAt: day(1)},
			{SourceVersion: "2024.7.0", CreatedAt: day(2)},
		}}
		w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, lister, time.Hour, nil)
		if w.Check(context.Background()) || r.count() != 0 {
			t.Error("expected no run when versions match")
		}
	})

	t.Run("no remote backups", func(t *testing.T) {
		r := newMockRunner()
		w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, &fakeLister{}, time.Hour, nil)
		if w.Check(context.Background()) || r.count() != 0 {
			t.Error("expected no run without a remote baseline")
		}
	})

	t.Run("core error", func(t *testing.T) {
		r := newMockRunner()
		lister := &fakeLister{}
		w := NewVersionWatch(r, &fakeCore{err: errors.New("supervisor down")}, lister, time.Hour, nil)
		if w.Check(context.Background()) || lister.calls != 0 {
			t.Error("expected nothing to happen when the core version is unknown")
		}
	})

	t.Run("list error keeps version unseen", func(t *testing.T) {
		r := newMockRunner()
		w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, &fakeLister{err: errors.New("503")}, time.Hour, nil)
		if w.Check(context.Background()) {
			t.Error("expected no run when listing fails")
		}
		if w.Seen() != "" {
			t.Errorf("expected version to stay unseen for retry, got %q", w.Seen())
		}
	})

	t.Run("rejected run is retried", func(t *testing.T) {
		r := newMockRunner()
		r.err = orchestrator.ErrRunInProgress
		lister := &fakeLister{backups: []backend.RemoteBackup{{SourceVersion: "2024.6.0", CreatedAt: day(1)}}}
		w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, lister, time.Hour, nil)
		if w.Check(context.Background()) {
			t.Error("expected rejected run to report not attempted")
		}
		if w.Seen() != "" {
			t.Errorf("expected version to stay unseen, got %q", w.Seen())
		}
	})
}

func TestVersionWatchLoop(t *testing.T) {
	r := newMockRunner()
	lister := &fakeLister{backups: []backend.RemoteBackup{{SourceVersion: "2024.6.0"}}}
	w := NewVersionWatch(r, &fakeCore{version: "2024.7.0"}, lister, 5*time.Millisecond, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr := waitRun(t, r); tr != orchestrator.TriggerPreUpdate {
		t.Errorf("expected pre_update, got %s", tr)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if r.count() != 1 {
		t.Errorf("expected a single run, got %d", r.count())
	}
}

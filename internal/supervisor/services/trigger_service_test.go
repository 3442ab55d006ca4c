// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockTrigger struct {
	startErr error
	stopErr  error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (m *mockTrigger) Start(context.Context) error {
	m.starts.Add(1)
	return m.startErr
}

func (m *mockTrigger) Stop() error {
	m.stops.Add(1)
	return m.stopErr
}

var _ suture.Service = (*TriggerService)(nil)

func TestTriggerServiceLifecycle(t *testing.T) {
	m := &mockTrigger{}
	svc := NewTriggerService("backup-scheduler", m)
	if svc.String() != "backup-scheduler" {
		t.Errorf("expected name backup-scheduler, got %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if m.starts.Load() != 1 || m.stops.Load() != 1 {
		t.Errorf("expected one start and one stop, got %d and %d", m.starts.Load(), m.stops.Load())
	}
}

func TestTriggerServiceStartFailure(t *testing.T) {
	startErr := errors.New("already running")
	m := &mockTrigger{startErr: startErr}

	err := NewTriggerService("version-watch", m).Serve(context.Background())
	if !errors.Is(err, startErr) {
		t.Errorf("expected wrapped start error, got %v", err)
	}
	if m.stops.Load() != 0 {
		t.Error("Stop must not be called after a failed Start")
	}
}

func TestTriggerServiceStopFailure(t *testing.T) {
	stopErr := errors.New("stuck")
	m := &mockTrigger{stopErr: stopErr}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewTriggerService("version-watch", m).Serve(ctx); !errors.Is(err, stopErr) {
		t.Errorf("expected wrapped stop error, got %v", err)
	}
}

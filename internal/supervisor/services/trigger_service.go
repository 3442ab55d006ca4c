// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package services

import (
	"context"
	"fmt"
)

// TriggerManager is the Start/Stop lifecycle shared by scheduler.Scheduler
// and scheduler.VersionWatch.
type TriggerManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// TriggerService supervises one backup trigger source.
type TriggerService struct {
	manager TriggerManager
	name    string
}

// NewTriggerService wraps manager under the given service name.
//
//	sched, _ := scheduler.New(orch, cfg.Schedule, nil)
//	tree.AddTriggerService(services.NewTriggerService("backup-scheduler", sched))
func NewTriggerService(name string, manager TriggerManager) *TriggerService {
	return &TriggerService{manager: manager, name: name}
}

// Serve implements suture.Service. A Start failure is returned so the
// supervisor restarts the service with backoff.
func (s *TriggerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

// String names the service in supervisor events.
func (s *TriggerService) String() string {
	return s.name
}

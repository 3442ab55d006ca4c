// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/homesafe-connector/internal/backend"
	"github.com/tomtom215/homesafe-connector/internal/history"
	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/orchestrator"
	"github.com/tomtom215/homesafe-connector/internal/runerr"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
	listTimeout      = 30 * time.Second
)

// Orchestrator is the slice of the orchestrator the control surface uses.
type Orchestrator interface {
	Trigger(trigger orchestrator.Trigger) (string, error)
	Status() orchestrator.Status
	Recent(ctx context.Context, limit int) ([]history.RunRecord, error)
}

// BackupLister lists backups held by the backend.
type BackupLister interface {
	List(ctx context.Context) ([]backend.RemoteBackup, error)
}

// BreakerReporter exposes the backend circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// Handler serves the control surface endpoints.
type Handler struct {
	orch      Orchestrator
	backups   BackupLister
	breaker   BreakerReporter
	version   string
	startedAt time.Time
}

// NewHandler creates a Handler. backups and breaker may be nil.
func NewHandler(orch Orchestrator, backups BackupLister, breaker BreakerReporter, version string) *Handler {
	return &Handler{
		orch:      orch,
		backups:   backups,
		breaker:   breaker,
		version:   version,
		startedAt: time.Now(),
	}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string `json:"status"` // "ok", or "degraded" while the backend breaker is open
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Breaker       string `json:"backend_breaker,omitempty"`
	RunActive     bool   `json:"run_active"`
}

// Health reports liveness. It always answers 200 while the process serves.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		RunActive:     h.orch.Status().Current != nil,
	}
	if h.breaker != nil {
		resp.Breaker = h.breaker.BreakerState()
		if resp.Breaker == "open" {
			resp.Status = "degraded"
		}
	}
	NewResponseWriter(w, r).Success(resp)
}

// Status returns the current run, the last result and totals.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.orch.Status())
}

// TriggerResponse acknowledges a dispatched manual run.
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Trigger string `json:"trigger"`
}

// TriggerBackup starts a manual run in the background.
func (h *Handler) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	runID, err := h.orch.Trigger(orchestrator.TriggerManual)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		rw.Conflict(err.Error())
		return
	case err != nil:
		rw.ServiceUnavailable(err.Error())
		return
	}

	logging.Ctx(r.Context()).Info().Str("run_id", runID).Msg("Manual backup triggered")
	rw.Accepted(TriggerResponse{RunID: runID, Trigger: string(orchestrator.TriggerManual)})
}

// ListBackups proxies the backend listing.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.backups == nil {
		rw.ServiceUnavailable("backend listing is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	backups, err := h.backups.List(ctx)
	if err != nil {
		kind := ""
		if k := runerr.KindOf(err); k != runerr.KindUnknown {
			kind = k.String()
		}
		rw.ExternalServiceError("homesafe", kind, err)
		return
	}
	if backups == nil {
		backups = []backend.RemoteBackup{}
	}
	rw.List(backups, len(backups))
}

// ListRuns returns persisted run records, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	runs, err := h.orch.Recent(r.Context(), limit)
	if err != nil {
		rw.InternalError("Failed to read run history", err)
		return
	}
	if runs == nil {
		runs = []history.RunRecord{}
	}
	rw.List(runs, len(runs))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRunsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxRunsLimit), nil
}

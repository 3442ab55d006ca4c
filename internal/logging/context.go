// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	triggerKey   contextKey = "trigger"
	requestIDKey contextKey = "request_id"
)

// NewRunID returns a fresh identifier for one backup run.
func NewRunID() string {
	return uuid.New().String()
}

// GenerateRequestID returns a short identifier for one HTTP request.
func GenerateRequestID() string {
	return uuid.New().String()[:8]
}

// ContextWithRunID attaches a run ID (and the trigger that started the run).
func ContextWithRunID(ctx context.Context, runID, trigger string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	if trigger != "" {
		ctx = context.WithValue(ctx, triggerKey, trigger)
	}
	return ctx
}

// RunIDFromContext returns the run ID, or "" when none is set.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID attaches an HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger enriched with run_id, trigger and
// request_id when the context carries them.
//
//	logging.Ctx(ctx).Info().Str("slug", h.Slug).Msg("Snapshot located")
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := RunIDFromContext(ctx); id != "" {
		lc = lc.Str("run_id", id)
	}
	if trig, ok := ctx.Value(triggerKey).(string); ok {
		lc = lc.Str("trigger", trig)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	l := lc.Logger()
	return &l
}

// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/homesafe-connector/internal/logging"
	"github.com/tomtom215/homesafe-connector/internal/metrics"
)

func newTestRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(PrometheusMetrics)
	r.Use(AccessLog)
	r.Get("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(logging.RequestIDFromContext(r.Context())))
	})
	r.Post("/api/v1/backups", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	return r
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	router := newTestRouter()
	okCounter := metrics.APIRequestsTotal.WithLabelValues("GET", "/api/v1/runs", "200")
	conflictCounter := metrics.APIRequestsTotal.WithLabelValues("POST", "/api/v1/backups", "409")
	okBefore := testutil.ToFloat64(okCounter)
	conflictBefore := testutil.ToFloat64(conflictCounter)

	for _, target := range []string{"/api/v1/runs?limit=5", "/api/v1/runs?limit=50"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/backups", nil))

	if got := testutil.ToFloat64(okCounter) - okBefore; got != 2 {
		t.Errorf("expected 2 GET /api/v1/runs requests counted, got %v", got)
	}
	if got := testutil.ToFloat64(conflictCounter) - conflictBefore; got != 1 {
		t.Errorf("expected 1 conflicting POST counted, got %v", got)
	}
}

func TestRoutePatternWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/raw", nil)
	if got := routePattern(req); got != unmatchedRoute {
		t.Errorf("expected %q outside a chi router, got %q", unmatchedRoute, got)
	}
}

func TestRequestID(t *testing.T) {
	router := newTestRouter()

	t.Run("propagates upstream id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Header().Get(RequestIDHeader) != "abc-123" || rec.Body.String() != "abc-123" {
			t.Errorf("expected abc-123 echoed and in context, got header %q body %q",
				rec.Header().Get(RequestIDHeader), rec.Body.String())
		}
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
		id := rec.Header().Get(RequestIDHeader)
		if id == "" || id != rec.Body.String() {
			t.Errorf("expected generated id echoed, got header %q body %q", id, rec.Body.String())
		}
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if len(rec.Header().Get(RequestIDHeader)) > maxRequestIDLen {
			t.Error("expected oversized upstream id to be replaced")
		}
	})
}

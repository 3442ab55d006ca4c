// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_runs_total",
			Help: "Total number of backup runs by trigger and result",
		},
		[]string{"trigger", "result"}, // result: "success", "failure", "rejected"
	)

	RunFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_run_failures_total",
			Help: "Failed backup runs by failure kind",
		},
		[]string{"kind"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homesafe_run_duration_seconds",
			Help:    "Wall time of a backup run from locate to side sync",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		},
	)

	RunActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homesafe_run_active",
			Help: "1 while a backup run is in progress",
		},
	)

	// Snapshot locator metrics
	LocatorResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_locator_resolutions_total",
			Help: "Snapshots resolved by locator strategy",
		},
		[]string{"strategy"}, // strategy: "sync", "job", "listing"
	)

	LocatorPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_locator_polls_total",
			Help: "Locator poll attempts by phase",
		},
		[]string{"phase"}, // phase: "job", "listing"
	)

	// Upload metrics
	UploadChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_upload_chunks_total",
			Help: "Transfer calls completed by destination kind",
		},
		[]string{"kind"},
	)

	UploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_upload_bytes_total",
			Help: "Bytes accepted by the backend by destination kind",
		},
		[]string{"kind"},
	)

	// Housekeeping metrics
	RetentionRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homesafe_retention_removed_total",
			Help: "Local snapshots removed by retention sweeps",
		},
	)

	ConfigSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_configsync_total",
			Help: "Configuration sync attempts by result",
		},
		[]string{"result"},
	)

	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_source_requests_total",
			Help: "Supervisor API requests by operation and HTTP status",
		},
		[]string{"op", "status"},
	)

	// Control surface metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_api_requests_total",
			Help: "Control surface requests by method, route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homesafe_api_request_duration_seconds",
			Help:    "Control surface request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homesafe_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesafe_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordRun records the outcome of one backup run. kind is empty on success.
func RecordRun(trigger string, success bool, kind string, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
		RunFailures.WithLabelValues(kind).Inc()
	}
	RunsTotal.WithLabelValues(trigger, result).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordRejectedRun counts a trigger refused because a run was active.
func RecordRejectedRun(trigger string) {
	RunsTotal.WithLabelValues(trigger, "rejected").Inc()
}

// RecordChunk counts one successful transfer call.
func RecordChunk(kind string, bytes int64) {
	UploadChunks.WithLabelValues(kind).Inc()
	UploadBytes.WithLabelValues(kind).Add(float64(bytes))
}

// RecordSourceRequest counts a Supervisor API call. status 0 means the
// request never produced a response.
func RecordSourceRequest(op string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	SourceRequests.WithLabelValues(op, label).Inc()
}

// RecordAPIRequest records one control surface request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

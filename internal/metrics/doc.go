// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package metrics provides the connector's Prometheus collectors.

Metrics are exposed at /metrics on the control surface:

	curl http://localhost:8099/metrics

# Available Metrics

Runs:
  - homesafe_runs_total{trigger,result}
  - homesafe_run_failures_total{kind}
  - homesafe_run_duration_seconds
  - homesafe_run_active

Snapshot locator:
  - homesafe_locator_resolutions_total{strategy}: sync, job or listing
  - homesafe_locator_polls_total{phase}: job or listing

Uploads:
  - homesafe_upload_chunks_total{kind}
  - homesafe_upload_bytes_total{kind}

Housekeeping:
  - homesafe_retention_removed_total
  - homesafe_configsync_total{result}
  - homesafe_source_requests_total{op,status}

Circuit breaker (backend calls):
  - homesafe_circuit_breaker_state{name}: 0=closed, 1=half-open, 2=open
  - homesafe_circuit_breaker_requests_total{name,result}
  - homesafe_circuit_breaker_state_transitions_total{name,from_state,to_state}
*/
package metrics

// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package api is the connector's HTTP control surface, served behind Home
Assistant ingress.

The surface is a boundary only: it can start a manual run and read state,
but every backup decision stays inside the orchestrator. A manual trigger
returns 202 with the run ID as soon as the run is dispatched; 409 means
another run holds the single-run guard.

Every response uses the APIResponse envelope:

	{"success":true,"data":{...},"meta":{"request_id":"1a2b3c4d","timestamp":"...","duration_ms":0}}
	{"success":false,"error":{"code":"CONFLICT","message":"a backup run is already in progress"},"meta":{...}}

/api/v1/health is exempt from rate limiting so the Supervisor watchdog is
never throttled. /metrics serves the Prometheus registry.
*/
package api

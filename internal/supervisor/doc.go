// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package supervisor runs the connector's long-lived services under suture v4.

# Layout

	homesafe
	├── trigger-layer
	│   ├── backup-scheduler   (daily BACKUP_TIME, BACKUP_ON_START)
	│   └── version-watch      (if VERSION_CHECK_INTERVAL > 0)
	└── api-layer
	    └── http-server        (if HTTP_ENABLED)

Every trigger source calls into the same orchestrator, which is built once
in main and is not itself a service: it owns no goroutine between runs.

# Restart Policy

Failures are counted per layer with exponential decay (FailureDecay). Once
the counter passes FailureThreshold the layer waits FailureBackoff before
restarting the service. A crashing version watch therefore never delays
the daily schedule, and the control surface keeps serving status.

# Shutdown

Cancelling the context passed to Serve stops every service. Trigger
services return only after an in-flight run has finished its cleanup, so
ShutdownTimeout defaults to three minutes. Services still running after
the timeout are listed by UnstoppedServiceReport.

Events are logged through sutureslog onto the zerolog-backed slog handler
from internal/logging.
*/
package supervisor

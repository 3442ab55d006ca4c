// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package orchestrator sequences one backup run end to end.

# State Machine

	Locating -> Downloading -> Uploading -> CleaningUp -> SideSync -> Done
	    |            |             |
	    +------------+-------------+--> Failed

Uploading always moves on to CleaningUp, whatever the upload outcome, so a
failed upload never leaves its snapshot behind. CleaningUp deletes the run's
snapshot and then enforces local retention; neither can change the result.
SideSync (GitHub config sync) runs only after a successful upload and its
failure is logged as a side effect.

The result of a run is success if and only if the upload succeeded.

# Concurrency

A weight-1 semaphore admits one run at a time. Triggers that arrive while a
run is active fail fast with ErrRunInProgress rather than queueing. Run is
synchronous and used by the scheduler; Trigger starts the run in the
background and is used by the HTTP control surface.

# Observability

Every run gets a UUID run ID that is attached to the context logger. Each
state transition is timestamped into a history.RunRecord, which is persisted
at the end of the run and reflected in Prometheus metrics.
*/
package orchestrator

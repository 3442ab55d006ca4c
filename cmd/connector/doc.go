// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package main is the entry point for the HomeSafe connector.
//
// The connector creates full Home Assistant backups through the Supervisor,
// streams each one to the HomeSafe archival backend without buffering it on
// disk, and prunes local snapshots down to a fixed count.
//
// # Application Architecture
//
// Components are wired in this order:
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Supervisor client and snapshot locator
//  3. Backend client (circuit breaker protected) and streaming uploader
//  4. Retention manager, configuration side sync and run history
//  5. Backup orchestrator
//  6. Triggers: daily schedule and pre-update version watch
//  7. HTTP control surface (optional)
//
// Triggers and the HTTP server run as services in a suture supervisor tree,
// so a panicking scheduler is restarted instead of taking the process down.
//
// # Configuration
//
// Required:
//   - API_KEY: HomeSafe API key
//   - SUPERVISOR_TOKEN: injected by the Supervisor inside an add-on
//
// Common:
//   - API_URL: backend functions base URL
//   - AUTO_BACKUP: daily backups on (default true)
//   - BACKUP_TIME: HH:MM in local time (default 03:00)
//   - BACKUP_ON_START: run once at startup
//   - LOG_LEVEL, LOG_FORMAT
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the triggers and the HTTP server, cancel any run in
// flight and wait for its cleanup, then close the history store.
//
// # Example Usage
//
//	export API_KEY=hs_live_xxx
//	export SUPERVISOR_TOKEN=xxx
//	export BACKUP_TIME=02:30
//	./homesafe-connector
package main

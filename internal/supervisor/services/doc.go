// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

// Package services adapts connector components to suture.Service.
//
// HTTPServerService translates ListenAndServe/Shutdown into Serve.
// TriggerService translates the Start/Stop lifecycle of the backup
// scheduler and the version watch into Serve.
package services

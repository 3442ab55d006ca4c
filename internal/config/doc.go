// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package config loads and validates the connector configuration.

# Configuration Sources

Configuration is layered with Koanf v2, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. Optional YAML file: $CONFIG_PATH, /data/options.yaml or ./config.yaml
 3. Environment variables (explicit mapping, unknown names ignored)

# Environment Variables

HomeSafe backend:
  - API_URL: backend functions base URL
  - API_KEY: HomeSafe API key (required)
  - BACKEND_TIMEOUT: per-call timeout for init/complete/fail/list (default: 30s)
  - UPLOAD_FUNCTION: upload endpoint name (default: backup-upload)
  - LIST_FUNCTION: listing endpoint name (default: backup-list-api-key)

Home Assistant Supervisor:
  - SUPERVISOR_URL: Supervisor base URL (default: http://supervisor)
  - SUPERVISOR_TOKEN: bearer token injected by the Supervisor (required)
  - SUPERVISOR_TIMEOUT / DOWNLOAD_TIMEOUT: request and download timeouts

Scheduling:
  - AUTO_BACKUP: enable the daily backup (default: true)
  - BACKUP_TIME: HH:MM local time (default: 03:00)
  - BACKUP_ON_START: run once at startup (default: true)
  - VERSION_CHECK_INTERVAL: pre-update check cadence, 0 disables (default: 1h)

Snapshot locator:
  - LOCATOR_POLL_INTERVAL, LOCATOR_ASYNC_WAIT (5s, 120s)
  - LOCATOR_FALLBACK_INTERVAL, LOCATOR_FALLBACK_WAIT (10s, 600s)

Upload:
  - UPLOAD_CHUNK_SIZE: bytes per chunk (default: 52428800)
  - UPLOAD_TRANSFER_TIMEOUT: whole-transfer timeout (default: 30m)
  - UPLOAD_MAX_BPS: bandwidth cap in bytes/second, 0 is unlimited

Retention and history:
  - LOCAL_RETENTION: local snapshots kept (default: 3)
  - HISTORY_PATH, HISTORY_IN_MEMORY, HISTORY_MAX_RECORDS

GitHub configuration sync:
  - GITHUB_ENABLED, GITHUB_TOKEN, GITHUB_REPO (owner/name), GITHUB_BRANCH
  - GITHUB_SYNC_FILES: comma-separated local paths
  - GITHUB_API_URL

HTTP control surface:
  - HTTP_ENABLED, HTTP_HOST, HTTP_PORT, HTTP_RATE_LIMIT, CORS_ORIGINS

Logging:
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER
*/
package config

// HomeSafe Connector - Home Assistant backup streaming to HomeSafe
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/homesafe-connector

/*
Package middleware holds the chi middleware of the control surface.

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request count and latency per chi route pattern
  - AccessLog: one zerolog line per request at debug level

Order in the router:

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.AccessLog)

PrometheusMetrics labels by route pattern ("/api/v1/runs"), never by raw
path, so query strings and IDs cannot blow up label cardinality.
*/
package middleware

// Package server exposes the admin HTTP API: health probes, prometheus
// metrics, event queries, rotation and cache and router statistics.
//
// Routes:
//
//	GET  /healthz, /readyz, /health, /health/{name}
//	GET  /metrics
//	GET  /v1/events             query the event store
//	GET  /v1/events/recent      newest buffered events
//	GET  /v1/events/stats
//	POST /v1/events/rotate      requires the "admin" role
//	GET  /v1/subscriptions
//	GET  /v1/cache/stats
//
// Everything under /v1 goes through the configured authenticator.
package server

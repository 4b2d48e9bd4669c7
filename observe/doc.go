// Package observe provides the logging, tracing and metrics primitives shared
// by the resource-access layer.
//
// Components accept a Logger and a Metrics value and fall back to no-op
// implementations when none is supplied, so observability stays optional.
// NewObserver builds both from a Config along with the otel providers and,
// for the prometheus exporter, a registry the admin server can expose.
package observe

// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup, and graceful shutdown for the
// passport service.
//
// # Related Packages
//
//   - pkg/api: HTTP middleware that records the metrics defined here
package observability

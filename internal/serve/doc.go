// Package serve implements the HTTP file server that berth instances
// run.
//
// Background instances are `berth serve` child processes; this package
// is the whole of what they do. The router serves:
//
//   - /*        files and directory listings rooted at the directory
//   - /healthz  liveness probe
//   - /metrics  Prometheus metrics (requests, duration, bytes served)
//
// Request paths are sanitized so serving can never escape the root.
// Tracing (OpenTelemetry, global provider) is optional and off by
// default.
package serve

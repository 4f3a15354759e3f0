// Package server exposes the operational HTTP endpoints of inboxresponder:
// Prometheus metrics on /metrics and the Kubernetes probes /healthz,
// /readyz and /healthz/detailed.
//
// Readiness follows the pipeline. The service is ready once the poller has
// completed a cycle within HealthConfig.StaleAfter and the worker loop is
// running.
package server

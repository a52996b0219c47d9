/*
Package metrics defines and registers the update client's Prometheus
metrics: deployment outcomes and duration, rollback outcomes, update-module
invocation counts, download byte/resume counters, poll cycle outcomes, and
the state-data loop detector trip count.

Metrics are exposed via Handler, an http.Handler meant to be mounted under
/metrics by whatever serves the daemon's local diagnostics endpoint.

A separate HealthChecker tracks the running/healthy state of named internal
components (the daemon registers the store and the server) for a simple
JSON health endpoint, independent of the Prometheus registry.
*/
package metrics

// Package api exposes the operator-facing REST surface of the relief agent:
// runtime status, the activity log, synthetic event triggers, and Prometheus
// style metrics.
package api

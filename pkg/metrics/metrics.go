// Package metrics provides the central Prometheus registry reference for the
// report client. All metrics are defined in their respective packages
// (client, ratelimit, cache) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the report client.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - report_client_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - report_client_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - report_client_errors_total{class} (Counter): Errors by class (auth, rate_limit, api, network)
//
// Retry Metrics (pkg/client):
//   - report_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - report_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - report_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Ping Cache Metrics (pkg/client):
//   - report_client_ping_cache_hits_total (Counter): Ping calls served from cache
//   - report_client_ping_refreshes_total (Counter): Ping refreshes reaching the remote endpoint
//
// Gate Metrics (pkg/ratelimit):
//   - report_client_gate_in_flight (Gauge): Requests currently holding a gate slot
//   - report_client_gate_wait_seconds (Histogram): Time spent waiting for a slot
//   - report_client_gate_cancelled_total (Counter): Acquisitions abandoned by cancellation
//
// Cache Metrics (pkg/cache):
//   - report_cache_hits_total (Counter): Page cache hits
//   - report_cache_misses_total (Counter): Page cache misses
//   - report_cache_written_bytes_total (Counter): Bytes written to the page cache
//   - report_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//	# Cache Hit Rate
//	sum(rate(report_cache_hits_total[5m])) /
//	(sum(rate(report_cache_hits_total[5m])) + sum(rate(report_cache_misses_total[5m])))
//
//	# Request Error Rate
//	rate(report_client_errors_total[5m])
//
//	# P95 Request Latency
//	histogram_quantile(0.95, rate(report_client_request_duration_seconds_bucket[5m]))
//
//	# Gate Saturation
//	report_client_gate_in_flight

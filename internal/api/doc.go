// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the last pass summary and filter size.
//   - GET /v1/filter/contains?id= to probe the membership filter.
package api

// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/cycles and /v1/discovery to trigger background runs.
//   - /v1/sources for registry CRUD and manual heal requests.
//   - /v1/proposals for parser proposal review.
//   - GET /v1/items and /v1/search for analyzed items and semantic search.
//   - GET /v1/reports/cycles and /v1/reports/heals for run reports.
package api

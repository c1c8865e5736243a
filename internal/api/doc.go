// Package api hosts the HTTP server, middleware, and REST handlers for the
// scrape-task service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /scrape for task submission.
//   - GET /task/{id} and /report/{id} for polling.
//   - /tasks/{id}/... for direct actor operations (init, status, start, reset).
package api

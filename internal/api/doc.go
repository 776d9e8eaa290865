// Package api hosts the HTTP server, middleware, and REST handlers for the
// property lookup service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/search to look up one address.
//   - GET /api/test to run the canned lookup.
//   - GET /api/lookups and /api/lookups/{lookup_id} for lookup history.
package api

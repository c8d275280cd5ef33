// Package api implements the HTTP surface of the analytics server.
//
// New returns an http.Handler that serves:
//
//	GET  /api/v1/{module}             module response; interval > 0 streams NDJSON
//	GET  /api/v1/health               store reachability and registered modules
//	POST /api/v1/admin/rules/reload   re-read the events file
//	GET  /metrics                     Prometheus exposition
//	GET  /ws/{module}                 WebSocket stream, when Options.WebSocket is set
//
// Single-shot module responses:
//   - 200 with the JSON payload
//   - 204 when the module has no data
//   - 400 for malformed requests, 404 for unknown modules, 405 for non-GET
//   - 500 when a collaborator fails
//
// Every response carries an X-Request-ID header. Panics are recovered and
// answered with 500.
package api

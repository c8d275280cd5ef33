// Package ws streams analytics module responses over WebSocket.
//
// Handler is mounted at /ws/{module} and accepts the same query parameters as
// GET /api/v1/{module}. Each computed payload is sent as one JSON text frame.
// Iterations without data send nothing. With interval <= 0 the connection
// carries a single frame and is then closed normally.
//
// A request that cannot be served is rejected before the upgrade with the
// same status codes as the REST API. A failure after the upgrade is sent as
// a final {"error": "..."} frame followed by a close frame.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level.
package ws

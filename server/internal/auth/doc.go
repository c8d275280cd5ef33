// Package auth enforces API key authentication on the HTTP API and the gRPC
// server.
//
// A Policy built from the server config yields a gRPC unary and stream
// interceptor and an HTTP middleware. When the mode is not "apikey" or no key
// is configured, everything passes through (useful for local development).
// Otherwise a missing or wrong key is rejected with codes.Unauthenticated or
// HTTP 401.
package auth

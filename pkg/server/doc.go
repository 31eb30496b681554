// Package server provides the HTTP server for the gateway.
//
// It ties together the protocol handlers and middleware and manages the
// server lifecycle: start, graceful shutdown, and OS signal handling.
//
// # Routes
//
//   - POST /v1/messages - Messages requests (streaming and non-streaming)
//   - POST /v1/messages/count_tokens - upstream token counting
//   - GET /v1/models - served model listing
//   - GET /health - liveness probe
//   - GET /metrics - Prometheus metrics
//
// # Middleware Chain
//
// Requests pass through, outermost first: Recovery (panics become 500s
// in the protocol error shape), Logging, RequestID. The response writer
// wrapper forwards Flush so streaming responses work through the chain.
//
// # Graceful Shutdown
//
// On SIGTERM/SIGINT or context cancellation, the server stops accepting
// new connections and waits up to the configured shutdown timeout for
// in-flight requests, including open event streams, to complete.
package server

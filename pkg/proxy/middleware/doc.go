// Package middleware provides the HTTP middleware wrapped around the relay
// listener.
//
// # Middleware Chain
//
// The server builds the chain with Chain, outermost first:
//
//	handler = Chain(mux, Recovery(logger), RequestID(ids), Logging(logger))
//
//  1. Recovery: turn handler panics into a plain-text 500
//  2. RequestID: assign an X-Request-ID and store it in the context
//  3. Logging: log method, path, status, size and latency per request
//
// # Request ID
//
// Ids come from trace.IDGenerator and look like req-1700000000-00000000000000000042.
// A client-supplied X-Request-ID is ignored. The id is stored with
// logging.WithRequestID, so every log record emitted with the request
// context carries it.
//
// # Streaming
//
// The logging wrapper implements http.Flusher and Unwrap so that SSE
// responses are flushed frame by frame.
package middleware

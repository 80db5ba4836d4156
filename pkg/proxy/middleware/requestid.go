package middleware

import (
	"net/http"

	"apirelay-hq/relay/pkg/telemetry/logging"
	"apirelay-hq/relay/pkg/telemetry/trace"
)

const (
	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"
)

// RequestID assigns every request an id from gen, stores it in the request
// context (see logging.GetRequestID) and echoes it in the X-Request-ID
// response header.
//
// Client-supplied X-Request-ID headers are ignored so that ids stay unique
// and sortable within the process.
//
// Example usage:
//
//	handler = RequestID(trace.NewIDGenerator())(handler)
func RequestID(gen *trace.IDGenerator) func(http.Handler) http.Handler {
	if gen == nil {
		gen = trace.NewIDGenerator()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := gen.Next()
			r.Header.Del(RequestIDHeader)

			w.Header().Set(RequestIDHeader, requestID)
			ctx := logging.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

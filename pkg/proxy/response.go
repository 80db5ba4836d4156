package proxy

import (
	"fmt"
	"net/http"

	"apirelay-hq/relay/pkg/protocol"
)

// copyResponseHeader copies upstream response headers to the client, minus
// hop-by-hop headers and the length, which may change after conversion.
func copyResponseHeader(dst, src http.Header) {
	h := src.Clone()
	removeHopByHop(h)
	h.Del("Content-Length")
	for k, vv := range h {
		dst[k] = vv
	}
}

// SetSSEHeaders sets the appropriate headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteSSEFrames writes frames in wire form and flushes so each reaches the
// client immediately. It returns the number of bytes written.
func WriteSSEFrames(w http.ResponseWriter, frames []protocol.Frame) (int, error) {
	total := 0
	for _, f := range frames {
		n, err := w.Write(f.Bytes())
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to write SSE frame: %w", err)
		}
	}
	if len(frames) > 0 {
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
	return total, nil
}

// isEventStream reports whether a response carries an SSE body.
func isEventStream(h http.Header) bool {
	ct := h.Get("Content-Type")
	return len(ct) >= len("text/event-stream") && ct[:len("text/event-stream")] == "text/event-stream"
}

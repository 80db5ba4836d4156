package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"apirelay-hq/relay/pkg/failure"
)

// maxErrorBody bounds how much of an upstream error body is kept for
// classification and error details.
const maxErrorBody = 64 << 10

// noBackendMessage is the body returned when no backend is active.
const noBackendMessage = "No active backend is configured. Select one with `relay switch <backend-id>`.\n"

// UpstreamError is a failed attempt against a backend: either a transport
// error or a response whose status calls for classification.
type UpstreamError struct {
	// StatusCode is the upstream status, or 0 for transport errors.
	StatusCode int

	// Header and Body hold the upstream response, if there was one.
	Header http.Header
	Body   []byte

	// Err is the transport error, if there was one.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return transportText(e.Err)
	}
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("upstream returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Unwrap returns the transport error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Classify classifies the failure. A response is classified by its status
// first so that text in the body cannot override it.
func (e *UpstreamError) Classify() failure.Classification {
	if e.HasResponse() {
		return failure.ClassifyStatus(e.StatusCode, string(e.Body))
	}
	return failure.Classify(e.Error())
}

// HasResponse reports whether the backend answered with an HTTP response.
func (e *UpstreamError) HasResponse() bool {
	return e.Err == nil && e.StatusCode != 0
}

// transportText strips the method and URL that net/http adds to client
// errors so that the backend URL cannot influence classification.
func transportText(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return err.Error()
}

// shouldClassify reports whether an upstream status is a backend failure.
// Other 4xx statuses are client errors and are passed through.
func shouldClassify(status int) bool {
	switch {
	case status >= 500:
		return true
	case status == http.StatusUnauthorized,
		status == http.StatusPaymentRequired,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		return true
	}
	return false
}

// GatewayError is the error reported to a client after retries are exhausted
// or the failure is unrecoverable.
type GatewayError struct {
	Backend string
	Kind    failure.Kind
	Detail  string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Detail)
}

// Body renders the plain-text response body.
func (e *GatewayError) Body() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "backend: %s\n", e.Backend)
	fmt.Fprintf(&sb, "type: %s\n", e.Kind)
	fmt.Fprintf(&sb, "message: %s\n", e.Kind.Message())
	fmt.Fprintf(&sb, "detail: %s\n", e.Detail)
	return sb.String()
}

// WriteGatewayError writes the error contract response: status by kind,
// the error type header, and a plain-text body.
func WriteGatewayError(w http.ResponseWriter, e *GatewayError) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set(ErrorTypeHeader, e.Kind.HeaderValue())
	w.WriteHeader(e.Kind.StatusCode())
	if _, err := w.Write([]byte(e.Body())); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// writePlain writes a plain-text response.
func writePlain(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"apirelay-hq/relay/pkg/protocol"
)

const (
	// RequestIDHeader is the HTTP header carrying the relay's request id.
	RequestIDHeader = "X-Request-ID"

	// ErrorTypeHeader names the classified failure on gateway error responses.
	ErrorTypeHeader = "X-Relay-Error-Type"
)

// errBodyTooLarge is returned by readBody when the body exceeds the limit.
var errBodyTooLarge = errors.New("request body too large")

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// readBody reads at most limit bytes of the request body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// removeHopByHop deletes hop-by-hop headers, including any named in the
// Connection header.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// outboundHeader builds the headers sent to a backend from the client's
// headers. Client credentials are replaced with the backend's key, and
// provider-specific headers of the client's format are dropped when the
// request was converted.
func outboundHeader(in http.Header, client, upstream protocol.Format, apiKey string) http.Header {
	h := in.Clone()
	removeHopByHop(h)
	protocol.StripAuth(h)

	h.Del("Host")
	h.Del("Content-Length")
	h.Del(RequestIDHeader)
	// The transport negotiates compression itself and decodes transparently.
	h.Del("Accept-Encoding")

	if client != upstream {
		if upstream != protocol.FormatAnthropic {
			h.Del("anthropic-version")
			h.Del("anthropic-beta")
		}
		h.Set("Content-Type", "application/json")
	}

	protocol.SetAuth(h, upstream, apiKey)
	return h
}

// upstreamURL joins a backend base URL with a request path and query. When
// the base URL already ends with the path's first segment (for example a base
// of ".../v1" and a path of "/v1/messages") the segment is not repeated. The
// "key" query parameter is dropped since it carries Gemini client credentials.
func upstreamURL(base, pathAndQuery string) (string, error) {
	b, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL %q: %w", base, err)
	}
	if b.Scheme == "" || b.Host == "" {
		return "", fmt.Errorf("invalid backend base URL %q: scheme and host are required", base)
	}

	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", pathAndQuery, err)
	}

	path := ref.Path
	if last := lastSegment(b.Path); last != "" && strings.HasPrefix(path, "/"+last+"/") {
		path = strings.TrimPrefix(path, "/"+last)
	}
	b.Path += path
	b.RawPath = ""

	q := ref.Query()
	q.Del("key")
	b.RawQuery = q.Encode()
	return b.String(), nil
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

package proxy

import (
	"net"
	"net/http"
	"time"

	"apirelay-hq/relay/pkg/config"
)

// NewClient creates the pooled HTTP client used for backend requests.
//
// The client has no overall timeout since streamed responses may run for
// minutes. Connecting and waiting for response headers are bounded by the
// proxy configuration instead. Redirects are returned to the caller as is.
func NewClient(cfg config.ProxyConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		// Enable HTTP/2
		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

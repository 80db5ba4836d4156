package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/protocol"
)

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{"plain host", "https://api.openai.com", "/v1/chat/completions", "https://api.openai.com/v1/chat/completions", false},
		{"base ends in v1", "https://api.openai.com/v1", "/v1/chat/completions", "https://api.openai.com/v1/chat/completions", false},
		{"trailing slash", "https://api.openai.com/v1/", "/v1/chat/completions", "https://api.openai.com/v1/chat/completions", false},
		{"base with prefix", "https://api.example.com/anthropic", "/v1/messages", "https://api.example.com/anthropic/v1/messages", false},
		{"gemini stream", "https://generativelanguage.googleapis.com/v1beta", "/v1beta/models/gemini-pro:streamGenerateContent?alt=sse", "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:streamGenerateContent?alt=sse", false},
		{"drops gemini key", "https://generativelanguage.googleapis.com", "/v1beta/models/g:generateContent?key=secret&x=1", "https://generativelanguage.googleapis.com/v1beta/models/g:generateContent?x=1", false},
		{"missing scheme", "api.openai.com", "/v1/chat/completions", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := upstreamURL(tt.base, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("upstreamURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("upstreamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutboundHeader(t *testing.T) {
	in := http.Header{}
	in.Set("Authorization", "Bearer client")
	in.Set("x-api-key", "client")
	in.Set("anthropic-version", "2023-06-01")
	in.Set("anthropic-beta", "tools")
	in.Set("Connection", "keep-alive, X-Custom-Hop")
	in.Set("X-Custom-Hop", "1")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Accept-Encoding", "gzip")
	in.Set("X-Request-ID", "req-1")
	in.Set("User-Agent", "client/1.0")

	t.Run("converted to openai", func(t *testing.T) {
		h := outboundHeader(in, protocol.FormatAnthropic, protocol.FormatOpenAI, "sk-backend")

		if got := h.Get("Authorization"); got != "Bearer sk-backend" {
			t.Errorf("Authorization = %q", got)
		}
		for _, name := range []string{"x-api-key", "anthropic-version", "anthropic-beta", "Connection", "X-Custom-Hop", "Keep-Alive", "Accept-Encoding", "X-Request-ID"} {
			if h.Get(name) != "" {
				t.Errorf("%s forwarded: %q", name, h.Get(name))
			}
		}
		if h.Get("User-Agent") != "client/1.0" {
			t.Error("end-to-end header dropped")
		}
		if h.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", h.Get("Content-Type"))
		}
	})

	t.Run("same format keeps provider headers", func(t *testing.T) {
		h := outboundHeader(in, protocol.FormatAnthropic, protocol.FormatAnthropic, "sk-ant-backend")

		if got := h.Get("x-api-key"); got != "sk-ant-backend" {
			t.Errorf("x-api-key = %q", got)
		}
		if h.Get("Authorization") != "" {
			t.Error("client Authorization forwarded")
		}
		if h.Get("anthropic-beta") != "tools" {
			t.Error("anthropic-beta dropped for anthropic backend")
		}
	})

	if in.Get("Authorization") != "Bearer client" {
		t.Error("outboundHeader modified the inbound header")
	}
}

func TestShouldClassify(t *testing.T) {
	tests := map[int]bool{
		200: false,
		400: false,
		401: true,
		402: true,
		403: true,
		404: false,
		422: false,
		429: true,
		500: true,
		503: true,
	}
	for status, want := range tests {
		if got := shouldClassify(status); got != want {
			t.Errorf("shouldClassify(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestUpstreamError_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  *UpstreamError
		want failure.Kind
	}{
		{"rate limited", &UpstreamError{StatusCode: 429, Body: []byte("slow down")}, failure.KindRateLimit},
		{"bad gateway", &UpstreamError{StatusCode: 502}, failure.KindServerError},
		{"quota", &UpstreamError{StatusCode: 402, Body: []byte(`{"error":"insufficient balance"}`)}, failure.KindInsufficientBalance},
		{"bad gateway with digits in request id", &UpstreamError{StatusCode: 502, Body: []byte(`{"request_id":"req_8a402f"}`)}, failure.KindServerError},
		{"unavailable with 429 in body", &UpstreamError{StatusCode: 503, Body: []byte(`{"request_id":"req-429-7c"}`)}, failure.KindServerError},
		{"server error with 401 in body", &UpstreamError{StatusCode: 500, Body: []byte(`trace 401 at edge`)}, failure.KindServerError},
		{
			name: "transport error ignores URL",
			err: &UpstreamError{Err: &url.Error{
				Op:  "Post",
				URL: "https://reset.example.com/v1/messages",
				Err: errors.New("dial tcp: lookup api.invalid: no such host"),
			}},
			want: failure.KindNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Classify().Kind; got != tt.want {
				t.Errorf("Classify() = %s, want %s (text %q)", got, tt.want, tt.err.Error())
			}
		})
	}
}

func TestWriteGatewayError(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteGatewayError(w, &GatewayError{
		Backend: "primary",
		Kind:    failure.KindTimeout,
		Detail:  "context deadline exceeded",
	})
	if err != nil {
		t.Fatalf("WriteGatewayError() error = %v", err)
	}

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
	if got := w.Header().Get(ErrorTypeHeader); got != "timeout" {
		t.Errorf("%s = %q", ErrorTypeHeader, got)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}

	want := "backend: primary\n" +
		"type: Timeout\n" +
		"message: " + failure.KindTimeout.Message() + "\n" +
		"detail: context deadline exceeded\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestReadBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	if _, err := readBody(r, 5); !errors.Is(err, errBodyTooLarge) {
		t.Errorf("readBody() error = %v, want errBodyTooLarge", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("01234"))
	body, err := readBody(r, 5)
	if err != nil || string(body) != "01234" {
		t.Errorf("readBody() = %q, %v", body, err)
	}
}

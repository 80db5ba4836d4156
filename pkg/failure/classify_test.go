package failure

import (
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind Kind
		rec  Recoverability
	}{
		{"rate limit status line", "429 Too Many Requests", KindRateLimit, RateLimited},
		{"bad gateway", "502 Bad Gateway", KindServerError, Recoverable},
		{"service unavailable", "HTTP 503 Service Unavailable", KindServerError, Recoverable},
		{"internal server error", "500 Internal Server Error", KindServerError, Unrecoverable},
		{"other 5xx", "upstream answered 507", KindServerError, Unrecoverable},
		{"connection refused", "dial tcp 127.0.0.1:9: connect: connection refused", KindConnectionFailed, Recoverable},
		{"connection reset", "read: connection reset by peer", KindConnectionFailed, Recoverable},
		{"dns failure", "dial tcp: lookup api.example.invalid: no such host", KindNetworkError, Recoverable},
		{"unreachable", "connect: network is unreachable", KindNetworkError, Recoverable},
		{"timeout", "context deadline exceeded (Client.Timeout exceeded while awaiting headers)", KindTimeout, Recoverable},
		{"gateway timeout counts as timeout", "504 Gateway Timeout", KindTimeout, Recoverable},
		{"rate limit phrase", "Rate limit reached for requests", KindRateLimit, RateLimited},
		{"payment required", "HTTP 402 Payment Required", KindInsufficientBalance, Unrecoverable},
		{"quota", "You exceeded your current quota", KindInsufficientBalance, Unrecoverable},
		{"banned", "account suspended", KindAccountBanned, Unrecoverable},
		{"forbidden", "HTTP 403 Forbidden", KindAccountBanned, Unrecoverable},
		{"unauthorized", "HTTP 401 Unauthorized", KindAuthentication, Unrecoverable},
		{"invalid key", "Invalid API key provided", KindAuthentication, Unrecoverable},
		{"invalid response", "invalid response: unexpected end of JSON input", KindInvalidResponse, Recoverable},
		{"unknown", "something odd happened", KindUnknown, Unknown},
		{"empty", "", KindUnknown, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text)
			if got.Kind != tt.kind || got.Recoverability != tt.rec {
				t.Errorf("Classify(%q) = (%s, %s), want (%s, %s)",
					tt.text, got.Kind, got.Recoverability, tt.kind, tt.rec)
			}
		})
	}
}

func TestClassify_StatusCodesMatchWholeWords(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind Kind
	}{
		{"402 inside request id", `{"request_id":"req_8a402f"}`, KindUnknown},
		{"429 inside hash", "trace 7c4291", KindUnknown},
		{"401 inside token", "id=4013aa", KindUnknown},
		{"standalone 429", "status 429", KindRateLimit},
		{"standalone 403", "got 403 from edge", KindAccountBanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got.Kind != tt.kind {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.text, got.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		rec    Recoverability
	}{
		{"bad gateway ignores digits in body", 502, `{"request_id":"req_8a402f"}`, KindServerError, Recoverable},
		{"unavailable ignores rate limit text", 503, `{"error":"rate limit on req-429-1"}`, KindServerError, Recoverable},
		{"internal error ignores auth digits", 500, `{"request_id":"req-401-aa"}`, KindServerError, Unrecoverable},
		{"too many requests", 429, `{"error":{"type":"insufficient_quota"}}`, KindRateLimit, RateLimited},
		{"payment required", 402, "", KindInsufficientBalance, Unrecoverable},
		{"forbidden", 403, "", KindAccountBanned, Unrecoverable},
		{"unauthorized", 401, "", KindAuthentication, Unrecoverable},
		{"gateway timeout", 504, "", KindTimeout, Recoverable},
		{"insufficient storage is a server error", 507, "", KindServerError, Unrecoverable},
		{"undecided status falls back to body", 418, "invalid api key", KindAuthentication, Unrecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyStatus(tt.status, tt.body)
			if got.Kind != tt.kind || got.Recoverability != tt.rec {
				t.Errorf("ClassifyStatus(%d, %q) = (%s, %s), want (%s, %s)",
					tt.status, tt.body, got.Kind, got.Recoverability, tt.kind, tt.rec)
			}
		})
	}
}

func TestClassify_PrecedenceNetworkBeforeRateLimit(t *testing.T) {
	got := Classify("connection reset while reading 429 response")
	if got.Kind != KindConnectionFailed {
		t.Errorf("expected network rule to win, got %s", got.Kind)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	inputs := []string{"429 Too Many Requests", "502 Bad Gateway", "weird", "401"}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 50; i++ {
			if got := Classify(in); got != first {
				t.Fatalf("Classify(%q) not deterministic: %v != %v", in, got, first)
			}
		}
	}
}

func TestClassification_Retryable(t *testing.T) {
	if !(Classification{Recoverability: Unknown}).Retryable() {
		t.Error("unknown failures should be retry-eligible")
	}
	if !(Classification{Recoverability: RateLimited}).Retryable() {
		t.Error("rate-limited failures should be retry-eligible")
	}
	if (Classification{Recoverability: Unrecoverable}).Retryable() {
		t.Error("unrecoverable failures must not be retried")
	}
}

func TestKindStatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConnectionFailed, http.StatusBadGateway},
		{KindInvalidResponse, http.StatusBadGateway},
		{KindNetworkError, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindUnknown, http.StatusInternalServerError},
		{KindAuthentication, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		if got := tt.kind.StatusCode(); got != tt.want {
			t.Errorf("%s.StatusCode() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestKindHeaderValue(t *testing.T) {
	if got := KindInsufficientBalance.HeaderValue(); got != "insufficient_balance" {
		t.Errorf("HeaderValue() = %q", got)
	}
	if got := KindTimeout.HeaderValue(); got != "timeout" {
		t.Errorf("HeaderValue() = %q", got)
	}
}

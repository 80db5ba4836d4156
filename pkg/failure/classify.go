// Package failure classifies upstream failures into actionable categories.
//
// Classification is a pure function of the error text: the same input always
// yields the same (Kind, Recoverability) pair. Rules are checked in a fixed
// precedence order and the first match wins.
package failure

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the classified type of an upstream failure.
type Kind string

const (
	KindConnectionFailed    Kind = "ConnectionFailed"
	KindTimeout             Kind = "Timeout"
	KindRateLimit           Kind = "RateLimit"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindAccountBanned       Kind = "AccountBanned"
	KindAuthentication      Kind = "Authentication"
	KindServerError         Kind = "ServerError"
	KindInvalidResponse     Kind = "InvalidResponse"
	KindNetworkError        Kind = "NetworkError"
	KindUnknown             Kind = "Unknown"
)

// Recoverability says whether a failure should be retried in place, retried
// after the fixed rate-limit delay, or escalated to failover.
type Recoverability string

const (
	Recoverable   Recoverability = "Recoverable"
	RateLimited   Recoverability = "RateLimit"
	Unrecoverable Recoverability = "Unrecoverable"
	Unknown       Recoverability = "Unknown"
)

// Classification is the result of classifying one failure.
type Classification struct {
	Kind           Kind
	Recoverability Recoverability
}

// Retryable reports whether the classification permits an in-place retry.
// Unknown failures are retry-eligible.
func (c Classification) Retryable() bool {
	return c.Recoverability != Unrecoverable
}

type rule struct {
	kind    Kind
	rec     Recoverability
	code    *regexp.Regexp
	phrases []string
}

func (r rule) matches(s string) bool {
	if r.code != nil && r.code.MatchString(s) {
		return true
	}
	return containsAny(s, r.phrases)
}

// statusCode matches a status code only as a whole word, so digits inside
// request ids or hashes in an error body are not mistaken for one.
func statusCode(codes string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + codes + `)\b`)
}

// rules are evaluated top to bottom. The 5xx rules are handled separately
// because "any other 5xx" needs a pattern rather than a phrase list.
var (
	networkRules = []rule{
		{KindConnectionFailed, Recoverable, nil, []string{"connection refused", "connection reset", "refused", "reset", "broken pipe", "eof"}},
		{KindNetworkError, Recoverable, nil, []string{"dns", "no such host", "unreachable", "socket"}},
		{KindTimeout, Recoverable, nil, []string{"timeout", "timed out", "deadline exceeded"}},
		{KindRateLimit, RateLimited, statusCode("429"), []string{"rate limit", "ratelimit", "too many requests"}},
		{KindInsufficientBalance, Unrecoverable, statusCode("402"), []string{"insufficient funds", "payment required", "balance", "quota", "billing", "credit"}},
		{KindAccountBanned, Unrecoverable, statusCode("403"), []string{"suspended", "banned", "forbidden"}},
		{KindAuthentication, Unrecoverable, statusCode("401"), []string{"unauthorized", "invalid api key", "authentication"}},
		{KindServerError, Recoverable, statusCode("502|503"), []string{"bad gateway", "service unavailable"}},
	}

	trailingRules = []rule{
		{KindInvalidResponse, Recoverable, nil, []string{"invalid response", "malformed"}},
	}

	serverErrorPattern = regexp.MustCompile(`\b5\d\d\b`)
)

// Classify maps raw error text to a Classification.
//
// Example:
//
//	c := failure.Classify("429 Too Many Requests")
//	// c.Kind == KindRateLimit, c.Recoverability == RateLimited
func Classify(text string) Classification {
	lower := strings.ToLower(text)

	for _, r := range networkRules {
		if r.matches(lower) {
			return Classification{Kind: r.kind, Recoverability: r.rec}
		}
	}

	if serverErrorPattern.MatchString(lower) || strings.Contains(lower, "internal server error") {
		return Classification{Kind: KindServerError, Recoverability: Unrecoverable}
	}

	for _, r := range trailingRules {
		if r.matches(lower) {
			return Classification{Kind: r.kind, Recoverability: r.rec}
		}
	}

	return Classification{Kind: KindUnknown, Recoverability: Unknown}
}

// ClassifyStatus classifies an HTTP failure response. The status line
// ("502 Bad Gateway") decides whenever it maps to a known kind; the body is
// only consulted when it does not.
func ClassifyStatus(status int, body string) Classification {
	if c := Classify(StatusLine(status)); c.Kind != KindUnknown {
		return c
	}
	return Classify(body)
}

// StatusLine renders a status code with its reason phrase.
func StatusLine(status int) string {
	return strconv.Itoa(status) + " " + http.StatusText(status)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// StatusCode returns the HTTP status the proxy answers with when a failure of
// this kind is surfaced to the client.
func (k Kind) StatusCode() int {
	switch k {
	case KindConnectionFailed, KindInvalidResponse, KindNetworkError, KindServerError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindAccountBanned:
		return http.StatusForbidden
	case KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a short user-facing explanation for the kind.
func (k Kind) Message() string {
	switch k {
	case KindConnectionFailed:
		return "Could not connect to the backend."
	case KindTimeout:
		return "The backend did not respond in time."
	case KindRateLimit:
		return "The backend is rate limiting requests. Try again shortly."
	case KindInsufficientBalance:
		return "The backend account has insufficient balance or quota."
	case KindAccountBanned:
		return "The backend account is suspended or forbidden."
	case KindAuthentication:
		return "The backend rejected the configured API key."
	case KindServerError:
		return "The backend returned a server error."
	case KindInvalidResponse:
		return "The backend returned a response that could not be understood."
	case KindNetworkError:
		return "A network error occurred while reaching the backend."
	default:
		return "The request to the backend failed."
	}
}

// HeaderValue returns the snake_case form used in the X-Relay-Error-Type header.
func (k Kind) HeaderValue() string {
	var b strings.Builder
	for i, r := range string(k) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

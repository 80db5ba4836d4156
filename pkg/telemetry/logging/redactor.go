package logging

import (
	"regexp"
	"strings"

	"apirelay-hq/relay/pkg/config"
)

// Redactor masks backend credentials in log output.
type Redactor struct {
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternAnthropicKey = "anthropic_key"
	PatternOpenAIKey    = "openai_key"
	PatternGoogleKey    = "google_key"
	PatternBearerToken  = "bearer_token"
	PatternKeyHeader    = "key_header"
)

// Built-in patterns, applied in order. The Anthropic key pattern must run
// before the generic sk- pattern.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternAnthropicKey, `sk-ant-[A-Za-z0-9_\-]{8,}`, "sk-ant-***"},
	{PatternOpenAIKey, `sk-[A-Za-z0-9_\-]{16,}`, "sk-***"},
	{PatternGoogleKey, `AIza[0-9A-Za-z_\-]{20,}`, "AIza***"},
	{PatternBearerToken, `Bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternKeyHeader, `(?i)(x-api-key|x-goog-api-key|api[-_]?key)([=:]\s*)[^\s,&"]+`, "$1$2***"},
}

// NewRedactor creates a Redactor with the built-in patterns followed by the
// custom ones. Custom patterns that fail to compile are skipped; config
// validation rejects them before this point.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

// RedactString masks every credential found in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}

	redacted := value
	for _, pattern := range r.patterns {
		redacted = pattern.regex.ReplaceAllString(redacted, pattern.replacement)
	}
	return redacted
}

// IsSensitiveKey reports whether an attribute key names a secret whose value
// should be masked regardless of its shape.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	for _, sensitive := range []string{
		"api_key", "apikey", "x-api-key",
		"secret", "token", "password",
		"authorization",
	} {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// RedactAPIKey redacts an API key, keeping only a prefix.
func RedactAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}

// Package protocol detects which AI API a request speaks and converts
// requests, responses and SSE streams between the supported formats.
//
// Conversion goes through a provider-agnostic model (Request, Response and
// stream Deltas), so each wire format only knows how to decode into and
// encode out of that model.
package protocol

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Format is an AI API wire format.
type Format string

const (
	// FormatAnthropic is the Anthropic Messages API.
	FormatAnthropic Format = "anthropic"

	// FormatOpenAI is the OpenAI Chat Completions API.
	FormatOpenAI Format = "openai"

	// FormatGemini is the Google Gemini generateContent API.
	FormatGemini Format = "gemini"
)

// AnthropicVersion is sent on every request to Anthropic-format backends.
const AnthropicVersion = "2023-06-01"

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatAnthropic, FormatOpenAI, FormatGemini:
		return true
	}
	return false
}

var geminiModelPath = regexp.MustCompile(`models/([^/:]+):(generateContent|streamGenerateContent)`)

// Detect determines the client's wire format. The path is checked first,
// then provider-specific headers, then the shape of the JSON body. Anything
// unrecognized is treated as OpenAI.
func Detect(path string, header http.Header, body []byte) Format {
	switch {
	case strings.HasSuffix(path, "/messages"):
		return FormatAnthropic
	case strings.HasSuffix(path, "/chat/completions"):
		return FormatOpenAI
	case strings.Contains(path, ":generateContent"), strings.Contains(path, ":streamGenerateContent"):
		return FormatGemini
	}

	if header != nil {
		if header.Get("anthropic-version") != "" || header.Get("x-api-key") != "" {
			return FormatAnthropic
		}
		if header.Get("x-goog-api-key") != "" {
			return FormatGemini
		}
	}

	return detectBody(body)
}

func detectBody(body []byte) Format {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return FormatOpenAI
	}

	if _, ok := probe["contents"]; ok {
		return FormatGemini
	}
	if _, ok := probe["system"]; ok {
		return FormatAnthropic
	}
	if _, ok := probe["max_tokens"]; ok && hasContentBlocks(probe["messages"]) {
		return FormatAnthropic
	}
	return FormatOpenAI
}

// hasContentBlocks reports whether any message carries Anthropic-only block
// types (tool_use, tool_result).
func hasContentBlocks(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var msgs []struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return false
	}
	for _, m := range msgs {
		c := bytes.TrimSpace(m.Content)
		if len(c) == 0 || c[0] != '[' {
			continue
		}
		var blocks []struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(c, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "tool_use" || b.Type == "tool_result" {
				return true
			}
		}
	}
	return false
}

// Direction is the mapping-rule key for a conversion, e.g. "anthropic_to_openai".
func Direction(from, to Format) string {
	return string(from) + "_to_" + string(to)
}

// UpstreamPath returns the request path for a format. Gemini encodes the
// model and streaming mode in the path; the others ignore both.
func UpstreamPath(f Format, model string, stream bool) string {
	switch f {
	case FormatAnthropic:
		return "/v1/messages"
	case FormatGemini:
		if stream {
			return "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent?alt=sse"
		}
		return "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	default:
		return "/v1/chat/completions"
	}
}

// GeminiPathModel extracts the model and streaming flag from a Gemini path.
func GeminiPathModel(path string) (model string, stream bool, ok bool) {
	m := geminiModelPath.FindStringSubmatch(path)
	if m == nil {
		return "", false, false
	}
	model, err := url.PathUnescape(m[1])
	if err != nil {
		model = m[1]
	}
	return model, m[2] == "streamGenerateContent", true
}

// SetAuth writes the credential headers a backend of format f expects.
func SetAuth(h http.Header, f Format, apiKey string) {
	switch f {
	case FormatAnthropic:
		h.Set("x-api-key", apiKey)
		if h.Get("anthropic-version") == "" {
			h.Set("anthropic-version", AnthropicVersion)
		}
	case FormatGemini:
		h.Set("x-goog-api-key", apiKey)
	default:
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

// StripAuth removes every client credential header so the client's key never
// reaches a backend.
func StripAuth(h http.Header) {
	h.Del("Authorization")
	h.Del("x-api-key")
	h.Del("x-goog-api-key")
	h.Del("Proxy-Authorization")
}

package protocol

import (
	"net/http"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header http.Header
		body   string
		want   Format
	}{
		{"anthropic path", "/v1/messages", nil, `{}`, FormatAnthropic},
		{"openai path", "/v1/chat/completions", nil, `{}`, FormatOpenAI},
		{"gemini path", "/v1beta/models/gemini-pro:generateContent", nil, `{}`, FormatGemini},
		{"gemini stream path", "/v1beta/models/gemini-pro:streamGenerateContent", nil, `{}`, FormatGemini},
		{"path beats header", "/v1/chat/completions", http.Header{"Anthropic-Version": {"2023-06-01"}}, `{}`, FormatOpenAI},
		{"anthropic-version header", "/proxy", http.Header{"Anthropic-Version": {"2023-06-01"}}, `{}`, FormatAnthropic},
		{"x-api-key header", "/proxy", http.Header{"X-Api-Key": {"k"}}, `{}`, FormatAnthropic},
		{"goog header", "/proxy", http.Header{"X-Goog-Api-Key": {"k"}}, `{}`, FormatGemini},
		{"contents body", "/proxy", nil, `{"contents":[]}`, FormatGemini},
		{"system body", "/proxy", nil, `{"system":"be brief","messages":[]}`, FormatAnthropic},
		{"tool blocks body", "/proxy", nil, `{"max_tokens":10,"messages":[{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}]}`, FormatAnthropic},
		{"plain messages body", "/proxy", nil, `{"max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`, FormatOpenAI},
		{"garbage defaults to openai", "/proxy", nil, `not json`, FormatOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.path, tt.header, []byte(tt.body)); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUpstreamPath(t *testing.T) {
	tests := []struct {
		format Format
		model  string
		stream bool
		want   string
	}{
		{FormatAnthropic, "claude", true, "/v1/messages"},
		{FormatOpenAI, "gpt-4o", false, "/v1/chat/completions"},
		{FormatGemini, "gemini-1.5-pro", false, "/v1beta/models/gemini-1.5-pro:generateContent"},
		{FormatGemini, "gemini-1.5-pro", true, "/v1beta/models/gemini-1.5-pro:streamGenerateContent?alt=sse"},
	}
	for _, tt := range tests {
		if got := UpstreamPath(tt.format, tt.model, tt.stream); got != tt.want {
			t.Errorf("UpstreamPath(%s, %s, %v) = %q, want %q", tt.format, tt.model, tt.stream, got, tt.want)
		}
	}
}

func TestGeminiPathModel(t *testing.T) {
	model, stream, ok := GeminiPathModel("/v1beta/models/gemini-2.0-flash:streamGenerateContent")
	if !ok || model != "gemini-2.0-flash" || !stream {
		t.Errorf("GeminiPathModel() = %q, %v, %v", model, stream, ok)
	}

	model, stream, ok = GeminiPathModel("/v1beta/models/gemini-pro:generateContent")
	if !ok || model != "gemini-pro" || stream {
		t.Errorf("GeminiPathModel() = %q, %v, %v", model, stream, ok)
	}

	if _, _, ok := GeminiPathModel("/v1/messages"); ok {
		t.Error("non-gemini path should not match")
	}
}

func TestSetAuthAndStrip(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer client-key")
	h.Set("x-api-key", "client-key")
	StripAuth(h)
	if h.Get("Authorization") != "" || h.Get("x-api-key") != "" {
		t.Fatalf("StripAuth left credentials: %v", h)
	}

	SetAuth(h, FormatAnthropic, "sk-ant")
	if h.Get("x-api-key") != "sk-ant" || h.Get("anthropic-version") != AnthropicVersion {
		t.Errorf("anthropic headers = %v", h)
	}

	h = http.Header{}
	SetAuth(h, FormatOpenAI, "sk-oa")
	if h.Get("Authorization") != "Bearer sk-oa" {
		t.Errorf("openai Authorization = %q", h.Get("Authorization"))
	}

	h = http.Header{}
	SetAuth(h, FormatGemini, "g-key")
	if h.Get("x-goog-api-key") != "g-key" {
		t.Errorf("gemini key = %q", h.Get("x-goog-api-key"))
	}
}

func TestDirection(t *testing.T) {
	if got := Direction(FormatOpenAI, FormatGemini); got != "openai_to_gemini" {
		t.Errorf("Direction() = %q", got)
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Writer = &buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad level", Config{Level: "loud"}},
		{"bad format", Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLogger_Formats(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Format: "json"})
	logger.Info("hello", "n", 1)
	entry := decodeLine(t, buf)
	if entry["msg"] != "hello" || entry["n"] != float64(1) {
		t.Errorf("unexpected json entry: %v", entry)
	}

	logger, buf = newTestLogger(t, Config{Format: "text"})
	logger.Info("hello", "n", 1)
	if !strings.Contains(buf.String(), "msg=hello n=1") {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "warn", Format: "json"})
	child := logger.With("component", "proxy")

	child.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if logger.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v", logger.Level())
	}

	child.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("derived logger should follow the new level")
	}

	if err := logger.SetLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Format: "json", RedactSecrets: true})

	logger.With("api_key", "sk-live-0123456789").Error(
		"upstream rejected Bearer abcdef123456",
		"detail", "invalid key sk-ant-api03-zzzzzzzzzzzz",
		"error", errors.New("x-api-key: 0123456789abcdef"),
		slog.Group("req", slog.String("authorization", "Bearer secret-token")),
	)

	out := buf.String()
	for _, leaked := range []string{"0123456789", "abcdef123456", "zzzzzzzzzzzz", "secret-token"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}

	entry := decodeLine(t, buf)
	if entry["api_key"] != "sk-l***" {
		t.Errorf("api_key = %v", entry["api_key"])
	}
}

func TestLogger_NoRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Format: "json"})
	logger.Info("key", "detail", "sk-ant-api03-zzzzzzzzzzzz")

	if !strings.Contains(buf.String(), "zzzzzzzzzzzz") {
		t.Error("redaction should be off")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Format: "json"})

	ctx := WithBackend(WithRequestID(context.Background(), "req-1"), "primary")
	logger.InfoContext(ctx, "forwarding")

	entry := decodeLine(t, buf)
	if entry["request_id"] != "req-1" || entry["backend"] != "primary" {
		t.Errorf("context fields missing: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type backendList []string

func (b backendList) Table() *Table {
	t := &Table{Headers: []string{"ID", "NAME"}}
	for i, name := range b {
		t.Append(i+1, name)
	}
	return t
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTextFormatter(t *testing.T) {
	t.Run("plain value", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := (&TextFormatter{}).FormatTo(buf, "test message"); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		if buf.String() != "test message\n" {
			t.Errorf("FormatTo() = %q", buf.String())
		}
	})

	t.Run("table is aligned", func(t *testing.T) {
		buf := &bytes.Buffer{}
		if err := (&TextFormatter{}).FormatTo(buf, backendList{"primary", "fallback-long-name"}); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
		}
		if lines[0] != "ID  NAME" {
			t.Errorf("header = %q", lines[0])
		}
		if lines[2] != "2   fallback-long-name" {
			t.Errorf("row = %q", lines[2])
		}
	})
}

func TestJSONFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	data := map[string]any{"backend": "primary", "available": true}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["backend"] != "primary" {
		t.Errorf("round trip = %v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, backendList{"a,b", "c"}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	want := "ID,NAME\n1,\"a,b\"\n2,c\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, 42); err == nil {
		t.Error("expected error for non-table data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"other", "*cli.TextFormatter"},
	}
	for _, tt := range tests {
		got := NewFormatter(tt.format)
		if name := typeName(got); name != tt.want {
			t.Errorf("NewFormatter(%q) = %s, want %s", tt.format, name, tt.want)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	}
	return "unknown"
}

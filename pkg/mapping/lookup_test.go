package mapping

import (
	"context"
	"errors"
	"testing"

	"apirelay-hq/relay/pkg/storage"
)

type fakeSource struct {
	rules []*storage.ModelMapping
	err   error
	calls int
}

func (f *fakeSource) ListModelMappings(ctx context.Context) ([]*storage.ModelMapping, error) {
	f.calls++
	return f.rules, f.err
}

func TestLookup_Resolve(t *testing.T) {
	src := &fakeSource{rules: []*storage.ModelMapping{
		{ID: 1, SourceModel: "claude-sonnet", TargetModel: "gpt-4o-mini", Direction: "anthropic_to_openai", Priority: 1, Enabled: true},
		{ID: 2, SourceModel: "claude-sonnet", TargetModel: "gpt-4o", Direction: storage.DirectionBidirectional, Priority: 5, Enabled: true},
		{ID: 3, SourceModel: "claude-sonnet", TargetModel: "disabled", Direction: "anthropic_to_openai", Priority: 99, Enabled: false},
		{ID: 4, SourceModel: "gpt-4o", TargetModel: "claude-sonnet", Direction: "openai_to_anthropic", Priority: 0, Enabled: true},
		{ID: 5, SourceModel: "gemini-pro", TargetModel: "first", Direction: "gemini_to_openai", Priority: 2, Enabled: true},
		{ID: 6, SourceModel: "gemini-pro", TargetModel: "second", Direction: "gemini_to_openai", Priority: 2, Enabled: true},
	}}
	l := New(src)

	tests := []struct {
		name      string
		source    string
		direction string
		want      string
		wantOK    bool
	}{
		{"highest priority wins", "claude-sonnet", "anthropic_to_openai", "gpt-4o", true},
		{"bidirectional matches other direction", "claude-sonnet", "anthropic_to_gemini", "gpt-4o", true},
		{"direction must match", "gpt-4o", "anthropic_to_openai", "", false},
		{"exact direction", "gpt-4o", "openai_to_anthropic", "claude-sonnet", true},
		{"tie goes to earliest rule", "gemini-pro", "gemini_to_openai", "first", true},
		{"unknown model", "llama", "openai_to_anthropic", "", false},
		{"empty source", "", "openai_to_anthropic", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := l.Resolve(context.Background(), tt.source, tt.direction)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%q, %q) = (%q, %v), want (%q, %v)", tt.source, tt.direction, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLookup_ReadsEveryTime(t *testing.T) {
	src := &fakeSource{}
	l := New(src)
	ctx := context.Background()

	if got := l.Map(ctx, "claude-sonnet", "anthropic_to_openai"); got != "claude-sonnet" {
		t.Errorf("Map() = %q, want unchanged", got)
	}

	src.rules = []*storage.ModelMapping{
		{ID: 1, SourceModel: "claude-sonnet", TargetModel: "gpt-4o", Direction: "anthropic_to_openai", Enabled: true},
	}
	if got := l.Map(ctx, "claude-sonnet", "anthropic_to_openai"); got != "gpt-4o" {
		t.Errorf("Map() after rule added = %q, want gpt-4o", got)
	}
	if src.calls != 2 {
		t.Errorf("source consulted %d times, want 2", src.calls)
	}
}

func TestLookup_MapFallsBackOnError(t *testing.T) {
	src := &fakeSource{err: errors.New("database is locked")}
	l := New(src)

	if _, _, err := l.Resolve(context.Background(), "m", "a_to_b"); err == nil {
		t.Error("Resolve() should surface the store error")
	}
	if got := l.Map(context.Background(), "m", "a_to_b"); got != "m" {
		t.Errorf("Map() = %q, want source model on error", got)
	}
}

func TestDirection(t *testing.T) {
	if got := Direction("anthropic", "openai"); got != "anthropic_to_openai" {
		t.Errorf("Direction() = %q", got)
	}
}

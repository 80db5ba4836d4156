package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, driver string) *SQLiteStore {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.Driver = driver

	s, err := Open(cfg)
	if err != nil && driver == DriverMattn && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite3 driver needs cgo")
	}
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", driver, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGroup(t *testing.T, s *SQLiteStore, name string, n int) (*Group, []*Backend) {
	t.Helper()
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, name)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	var backends []*Backend
	for i := 0; i < n; i++ {
		b := &Backend{
			GroupID:   g.ID,
			Name:      name + "-" + string(rune('a'+i)),
			Provider:  ProviderAnthropic,
			BaseURL:   "https://api.example.com",
			APIKey:    "sk-test",
			SortOrder: n - i,
			Available: true,
		}
		if err := s.CreateBackend(ctx, b); err != nil {
			t.Fatalf("CreateBackend failed: %v", err)
		}
		backends = append(backends, b)
	}
	return g, backends
}

func TestOpen_BothDrivers(t *testing.T) {
	for _, driver := range []string{DriverModernc, DriverMattn} {
		t.Run(driver, func(t *testing.T) {
			s := newTestStore(t, driver)
			g, backends := seedGroup(t, s, "primary", 2)

			got, err := s.GetBackend(context.Background(), backends[0].ID)
			if err != nil {
				t.Fatalf("GetBackend failed: %v", err)
			}
			if got.GroupID != g.ID || got.Name != backends[0].Name || !got.Available {
				t.Errorf("GetBackend = %+v, want %+v", got, backends[0])
			}
			if got.Provider != ProviderAnthropic {
				t.Errorf("Provider = %q", got.Provider)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Open(Config{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestListAvailableBackends_SortOrder(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()
	g, backends := seedGroup(t, s, "pool", 3)

	// Sort orders are 3, 2, 1 in creation order, so listing reverses them.
	got, err := s.ListAvailableBackends(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListAvailableBackends failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d backends, want 3", len(got))
	}
	for i, want := range []int64{backends[2].ID, backends[1].ID, backends[0].ID} {
		if got[i].ID != want {
			t.Errorf("position %d = backend %d, want %d", i, got[i].ID, want)
		}
	}

	if err := s.SetBackendAvailable(ctx, backends[1].ID, false); err != nil {
		t.Fatalf("SetBackendAvailable failed: %v", err)
	}
	got, _ = s.ListAvailableBackends(ctx, g.ID)
	if len(got) != 2 {
		t.Errorf("after disabling one backend got %d, want 2", len(got))
	}

	all, _ := s.ListBackends(ctx, g.ID)
	if len(all) != 3 {
		t.Errorf("ListBackends got %d, want 3", len(all))
	}
}

func TestGetBackend_NotFound(t *testing.T) {
	s := newTestStore(t, DriverModernc)

	_, err := s.GetBackend(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBackend error = %v, want ErrNotFound", err)
	}
	_, err = s.GetGroup(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGroup error = %v, want ErrNotFound", err)
	}
}

func TestCreateBackend_Validation(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	g, _ := seedGroup(t, s, "v", 0)

	tests := []struct {
		name    string
		backend *Backend
	}{
		{"nil", nil},
		{"no group", &Backend{Name: "x", Provider: ProviderOpenAI, BaseURL: "http://x"}},
		{"no name", &Backend{GroupID: g.ID, Provider: ProviderOpenAI, BaseURL: "http://x"}},
		{"bad provider", &Backend{GroupID: g.ID, Name: "x", Provider: "cohere", BaseURL: "http://x"}},
		{"no url", &Backend{GroupID: g.ID, Name: "x", Provider: ProviderOpenAI}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateBackend(context.Background(), tt.backend); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSetGroupAutoSwitch_RequiresTwoBackends(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()

	single, _ := seedGroup(t, s, "single", 1)
	if err := s.SetGroupAutoSwitch(ctx, single.ID, true); !errors.Is(err, ErrTooFewBackends) {
		t.Errorf("enable with one backend: error = %v, want ErrTooFewBackends", err)
	}
	if err := s.SetGroupAutoSwitch(ctx, single.ID, false); err != nil {
		t.Errorf("disable should always succeed: %v", err)
	}

	pair, _ := seedGroup(t, s, "pair", 2)
	if err := s.SetGroupAutoSwitch(ctx, pair.ID, true); err != nil {
		t.Fatalf("enable with two backends failed: %v", err)
	}
	g, err := s.GetGroup(ctx, pair.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if !g.AutoSwitchEnabled {
		t.Error("AutoSwitchEnabled should be true")
	}

	if err := s.SetGroupAutoSwitch(ctx, 999, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown group error = %v, want ErrNotFound", err)
	}
}

func TestSwitchEvents(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()
	g, backends := seedGroup(t, s, "events", 2)

	from := backends[0].ID
	first := &SwitchEvent{
		Timestamp:     time.Now().Add(-time.Minute),
		Reason:        ReasonTimeout,
		FromBackendID: &from,
		ToBackendID:   backends[1].ID,
		GroupID:       g.ID,
		ErrorMessage:  "request timed out",
	}
	if err := s.InsertSwitchEvent(ctx, first); err != nil {
		t.Fatalf("InsertSwitchEvent failed: %v", err)
	}
	if first.ID == "" {
		t.Error("InsertSwitchEvent should assign an id")
	}

	second := &SwitchEvent{Reason: ReasonManual, ToBackendID: backends[0].ID, GroupID: g.ID}
	if err := s.InsertSwitchEvent(ctx, second); err != nil {
		t.Fatalf("InsertSwitchEvent failed: %v", err)
	}

	events, err := s.ListSwitchEvents(ctx, g.ID, 10)
	if err != nil {
		t.Fatalf("ListSwitchEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != second.ID {
		t.Error("events should be newest first")
	}
	if events[0].FromBackendID != nil {
		t.Error("manual event without origin should have nil FromBackendID")
	}
	if events[1].FromBackendID == nil || *events[1].FromBackendID != from {
		t.Errorf("FromBackendID = %v, want %d", events[1].FromBackendID, from)
	}
	if events[1].Reason != ReasonTimeout || events[1].ErrorMessage != "request timed out" {
		t.Errorf("event = %+v", events[1])
	}
}

func TestRequestLogs_InsertListPrune(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()

	old := &RequestLog{
		BackendID: 1, GroupID: 1, Method: "POST", Path: "/v1/messages",
		StatusCode: 200, CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := &RequestLog{
		BackendID: 2, GroupID: 1, Method: "POST", Path: "/v1/messages",
		Model: "claude-sonnet", StatusCode: 502, ErrorType: "server_error",
		InputTokens: 12, OutputTokens: 30, Stream: true,
	}
	for _, rl := range []*RequestLog{old, recent} {
		if err := s.InsertRequestLog(ctx, rl); err != nil {
			t.Fatalf("InsertRequestLog failed: %v", err)
		}
	}

	errorsOnly, err := s.ListRequestLogs(ctx, RequestLogFilter{OnlyErrors: true})
	if err != nil {
		t.Fatalf("ListRequestLogs failed: %v", err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].ID != recent.ID {
		t.Fatalf("OnlyErrors returned %d logs", len(errorsOnly))
	}
	if got := errorsOnly[0]; !got.Stream || got.OutputTokens != 30 || got.ErrorType != "server_error" {
		t.Errorf("round-tripped log = %+v", got)
	}

	n, err := s.PruneRequestLogs(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRequestLogs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d logs, want 1", n)
	}

	remaining, _ := s.ListRequestLogs(ctx, RequestLogFilter{})
	if len(remaining) != 1 {
		t.Errorf("remaining = %d, want 1", len(remaining))
	}
}

func TestModelMappings(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()

	low := &ModelMapping{SourceModel: "claude-sonnet", TargetModel: "gpt-4o-mini", Direction: "anthropic_to_openai", Priority: 1, Enabled: true}
	high := &ModelMapping{SourceModel: "claude-sonnet", TargetModel: "gpt-4o", Direction: DirectionBidirectional, Priority: 5, Enabled: true}
	for _, m := range []*ModelMapping{low, high} {
		if err := s.CreateModelMapping(ctx, m); err != nil {
			t.Fatalf("CreateModelMapping failed: %v", err)
		}
	}

	dup := &ModelMapping{SourceModel: "claude-sonnet", TargetModel: "other", Direction: "anthropic_to_openai", Enabled: true}
	if err := s.CreateModelMapping(ctx, dup); !errors.Is(err, ErrDuplicateMapping) {
		t.Errorf("duplicate error = %v, want ErrDuplicateMapping", err)
	}

	disabledDup := &ModelMapping{SourceModel: "claude-sonnet", TargetModel: "other", Direction: "anthropic_to_openai"}
	if err := s.CreateModelMapping(ctx, disabledDup); err != nil {
		t.Errorf("disabled duplicate should be allowed: %v", err)
	}

	all, err := s.ListModelMappings(ctx)
	if err != nil {
		t.Fatalf("ListModelMappings failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != high.ID {
		t.Errorf("mappings should be ordered by priority, got %d first", all[0].ID)
	}

	if err := s.DeleteModelMapping(ctx, low.ID); err != nil {
		t.Fatalf("DeleteModelMapping failed: %v", err)
	}
	if err := s.DeleteModelMapping(ctx, low.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestUpdateBackendLatency(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()
	_, backends := seedGroup(t, s, "lat", 1)

	if err := s.UpdateBackendLatency(ctx, backends[0].ID, 321); err != nil {
		t.Fatalf("UpdateBackendLatency failed: %v", err)
	}
	b, _ := s.GetBackend(ctx, backends[0].ID)
	if b.LastLatencyMs != 321 {
		t.Errorf("LastLatencyMs = %d, want 321", b.LastLatencyMs)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := newTestStore(t, DriverModernc)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := s.GetBackend(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("GetBackend after Close error = %v, want ErrClosed", err)
	}
}

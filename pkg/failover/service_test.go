package failover

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/storage"
)

type fixture struct {
	store   *storage.SQLiteStore
	runtime *state.Runtime
	svc     *Service
	events  []Event
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "failover.db")
	store, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, runtime: state.NewRuntime("127.0.0.1", 0)}
	f.svc = NewService(store, f.runtime, EmitterFunc(func(ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}))
	return f
}

// group creates a group with one available backend per sort order given.
func (f *fixture) group(t *testing.T, name string, autoSwitch bool, sortOrders ...int) (*storage.Group, []*storage.Backend) {
	t.Helper()
	ctx := context.Background()

	g, err := f.store.CreateGroup(ctx, name)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	var backends []*storage.Backend
	for i, order := range sortOrders {
		b := &storage.Backend{
			GroupID:   g.ID,
			Name:      name + "-" + string(rune('A'+i)),
			Provider:  storage.ProviderAnthropic,
			BaseURL:   "https://api.example.com",
			APIKey:    "sk-test",
			SortOrder: order,
			Available: true,
		}
		if err := f.store.CreateBackend(ctx, b); err != nil {
			t.Fatalf("CreateBackend failed: %v", err)
		}
		backends = append(backends, b)
	}

	if autoSwitch {
		if err := f.store.SetGroupAutoSwitch(ctx, g.ID, true); err != nil {
			t.Fatalf("SetGroupAutoSwitch failed: %v", err)
		}
	}
	return g, backends
}

func (f *fixture) switchEvents(t *testing.T, groupID int64) []*storage.SwitchEvent {
	t.Helper()
	events, err := f.store.ListSwitchEvents(context.Background(), groupID, 100)
	if err != nil {
		t.Fatalf("ListSwitchEvents failed: %v", err)
	}
	return events
}

func TestHandleFailure_RoundRobin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, b := f.group(t, "pool", true, 1, 2, 3)
	a, bb, c := b[0], b[1], b[2]

	f.runtime.SetActive(g.ID, bb.ID)

	ev, err := f.svc.HandleFailure(ctx, Failure{BackendID: bb.ID, GroupID: g.ID, Kind: failure.KindConnectionFailed, Message: "connection refused"})
	if err != nil {
		t.Fatalf("HandleFailure(B) error = %v", err)
	}
	if ev.ToBackendID != c.ID {
		t.Errorf("B failed: switched to %d, want C (%d)", ev.ToBackendID, c.ID)
	}
	if got := f.runtime.Snapshot().ActiveBackendID; got != c.ID {
		t.Errorf("active = %d, want C", got)
	}

	ev, err = f.svc.HandleFailure(ctx, Failure{BackendID: c.ID, GroupID: g.ID, Kind: failure.KindTimeout})
	if err != nil {
		t.Fatalf("HandleFailure(C) error = %v", err)
	}
	if ev.ToBackendID != a.ID {
		t.Errorf("C failed: switched to %d, want A (%d)", ev.ToBackendID, a.ID)
	}
	if ev.Reason != storage.ReasonTimeout {
		t.Errorf("reason = %q, want timeout", ev.Reason)
	}

	events := f.switchEvents(t, g.ID)
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.CrossGroup || e.GroupID != g.ID {
			t.Errorf("event %+v crossed groups", e)
		}
	}

	if len(f.events) != 2 || f.events[0].Name != EventAutoSwitchTriggered {
		t.Fatalf("emitted %d events", len(f.events))
	}
	if f.events[0].FromBackend != bb.Name || f.events[0].ToBackend != c.Name || f.events[0].GroupName != "pool" {
		t.Errorf("emitted event = %+v", f.events[0])
	}
}

func TestHandleFailure_SingleBackendNoSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, b := f.group(t, "solo", false, 1)

	// Auto-switch cannot be enabled with one backend; force the flag through
	// a second backend that is then disabled.
	extra := &storage.Backend{GroupID: g.ID, Name: "extra", Provider: storage.ProviderOpenAI, BaseURL: "https://x", Available: true}
	if err := f.store.CreateBackend(ctx, extra); err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if err := f.store.SetGroupAutoSwitch(ctx, g.ID, true); err != nil {
		t.Fatalf("SetGroupAutoSwitch failed: %v", err)
	}
	if err := f.store.SetBackendAvailable(ctx, extra.ID, false); err != nil {
		t.Fatalf("SetBackendAvailable failed: %v", err)
	}

	f.runtime.SetActive(g.ID, b[0].ID)
	_, err := f.svc.HandleFailure(ctx, Failure{BackendID: b[0].ID, GroupID: g.ID, Kind: failure.KindServerError})
	if !errors.Is(err, ErrNoSwitchPossible) {
		t.Fatalf("error = %v, want ErrNoSwitchPossible", err)
	}
	if n := len(f.switchEvents(t, g.ID)); n != 0 {
		t.Errorf("recorded %d events, want 0", n)
	}
	if got := f.runtime.Snapshot().ActiveBackendID; got != b[0].ID {
		t.Errorf("active backend changed to %d", got)
	}
}

func TestHandleFailure_AutoSwitchDisabled(t *testing.T) {
	f := newFixture(t)
	g, b := f.group(t, "manual", false, 1, 2)
	f.runtime.SetActive(g.ID, b[0].ID)

	_, err := f.svc.HandleFailure(context.Background(), Failure{BackendID: b[0].ID, GroupID: g.ID})
	if !errors.Is(err, ErrAutoSwitchDisabled) {
		t.Fatalf("error = %v, want ErrAutoSwitchDisabled", err)
	}
	if n := len(f.switchEvents(t, g.ID)); n != 0 {
		t.Errorf("recorded %d events, want 0", n)
	}
}

func TestHandleFailure_RejectsCrossGroup(t *testing.T) {
	f := newFixture(t)
	home, _ := f.group(t, "home", true, 1, 2)
	_, other := f.group(t, "other", true, 1, 2)

	f.runtime.SetActive(home.ID, other[0].ID)

	_, err := f.svc.HandleFailure(context.Background(), Failure{BackendID: other[0].ID, GroupID: home.ID})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if verr.Role != "source" || !errors.Is(err, ErrCrossGroup) {
		t.Errorf("validation error = %+v", verr)
	}
	if n := len(f.switchEvents(t, 0)); n != 0 {
		t.Errorf("recorded %d events, want 0", n)
	}
	if len(f.events) != 0 {
		t.Error("no event should be emitted on validation failure")
	}
}

func TestHandleFailure_ConcurrentFailuresSwitchOnce(t *testing.T) {
	f := newFixture(t)
	g, b := f.group(t, "race", true, 1, 2, 3)
	f.runtime.SetActive(g.ID, b[0].ID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		switched int
		skipped  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleFailure(context.Background(), Failure{BackendID: b[0].ID, GroupID: g.ID, Kind: failure.KindConnectionFailed})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				switched++
			case errors.Is(err, ErrAlreadySwitched):
				skipped++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if switched != 1 || skipped != 7 {
		t.Errorf("switched=%d skipped=%d, want 1 and 7", switched, skipped)
	}
	if got := f.runtime.Snapshot().ActiveBackendID; got != b[1].ID {
		t.Errorf("active = %d, want second backend", got)
	}
	if n := len(f.switchEvents(t, g.ID)); n != 1 {
		t.Errorf("recorded %d events, want 1", n)
	}
}

func TestHandleFailure_IdleRuntimeLeavesManualSwitchFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, oldBackends := f.group(t, "old", true, 1, 2)
	fresh, freshBackends := f.group(t, "fresh", false, 1)

	// A cross-group activation clears the pair before switching; a failure
	// from the old group lands in that window.
	f.runtime.SetActive(old.ID, oldBackends[0].ID)
	f.runtime.ClearActive()

	_, err := f.svc.HandleFailure(ctx, Failure{BackendID: oldBackends[0].ID, GroupID: old.ID, Kind: failure.KindServerError})
	if !errors.Is(err, ErrAlreadySwitched) {
		t.Fatalf("HandleFailure error = %v, want ErrAlreadySwitched", err)
	}
	if snap := f.runtime.Snapshot(); snap.HasActive() {
		t.Fatalf("runtime reactivated to %+v", snap)
	}
	if n := len(f.switchEvents(t, old.ID)); n != 0 {
		t.Errorf("recorded %d events for old group, want 0", n)
	}

	ev, err := f.svc.SwitchTo(ctx, freshBackends[0].ID)
	if err != nil {
		t.Fatalf("SwitchTo error = %v", err)
	}
	if ev.FromBackendID != nil || ev.GroupID != fresh.ID {
		t.Errorf("manual switch event = %+v", ev)
	}
	if snap := f.runtime.Snapshot(); snap.ActiveBackendID != freshBackends[0].ID || snap.ActiveGroupID != fresh.ID {
		t.Errorf("runtime = %+v", snap)
	}
}

func TestHandleFailure_StaleBackendSkipped(t *testing.T) {
	f := newFixture(t)
	g, b := f.group(t, "stale", true, 1, 2, 3)
	f.runtime.SetActive(g.ID, b[2].ID)

	_, err := f.svc.HandleFailure(context.Background(), Failure{BackendID: b[0].ID, GroupID: g.ID, Kind: failure.KindTimeout})
	if !errors.Is(err, ErrAlreadySwitched) {
		t.Fatalf("error = %v, want ErrAlreadySwitched", err)
	}
	if got := f.runtime.Snapshot().ActiveBackendID; got != b[2].ID {
		t.Errorf("active = %d, want unchanged %d", got, b[2].ID)
	}
	if n := len(f.switchEvents(t, g.ID)); n != 0 {
		t.Errorf("recorded %d events, want 0", n)
	}
}

func TestFindNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, b := f.group(t, "cycle", false, 10, 20, 30, 40)

	for i := range b {
		next, err := f.svc.FindNext(ctx, b[i].ID, g.ID)
		if err != nil {
			t.Fatalf("FindNext error = %v", err)
		}
		if want := b[(i+1)%len(b)].ID; next.ID != want {
			t.Errorf("FindNext(%d) = %d, want %d", b[i].ID, next.ID, want)
		}
	}

	next, err := f.svc.FindNext(ctx, 9999, g.ID)
	if err != nil {
		t.Fatalf("FindNext error = %v", err)
	}
	if next.ID != b[0].ID {
		t.Errorf("unknown current should yield first backend, got %d", next.ID)
	}

	if _, err := f.svc.FindNext(ctx, 0, 12345); !errors.Is(err, ErrNoSwitchPossible) {
		t.Errorf("empty group error = %v, want ErrNoSwitchPossible", err)
	}
}

func TestSwitchTo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, b := f.group(t, "pick", false, 1, 2)
	_, other := f.group(t, "elsewhere", false, 1)

	ev, err := f.svc.SwitchTo(ctx, b[1].ID)
	if err != nil {
		t.Fatalf("SwitchTo error = %v", err)
	}
	if ev.FromBackendID != nil || ev.Reason != storage.ReasonManual {
		t.Errorf("first manual switch = %+v", ev)
	}
	if snap := f.runtime.Snapshot(); snap.ActiveBackendID != b[1].ID || snap.ActiveGroupID != g.ID {
		t.Errorf("runtime = %+v", snap)
	}

	if _, err := f.svc.SwitchTo(ctx, b[1].ID); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("repeat switch error = %v, want ErrAlreadyActive", err)
	}

	if _, err := f.svc.SwitchTo(ctx, other[0].ID); !errors.Is(err, ErrCrossGroup) {
		t.Errorf("cross-group switch error = %v, want ErrCrossGroup", err)
	}

	ev, err = f.svc.SwitchTo(ctx, b[0].ID)
	if err != nil {
		t.Fatalf("SwitchTo error = %v", err)
	}
	if ev.FromBackendID == nil || *ev.FromBackendID != b[1].ID {
		t.Errorf("FromBackendID = %v, want %d", ev.FromBackendID, b[1].ID)
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		kind failure.Kind
		want storage.SwitchReason
	}{
		{failure.KindTimeout, storage.ReasonTimeout},
		{failure.KindRateLimit, storage.ReasonQuota},
		{failure.KindInsufficientBalance, storage.ReasonQuota},
		{failure.KindConnectionFailed, storage.ReasonConnectionFailed},
		{failure.KindServerError, storage.ReasonConnectionFailed},
		{failure.KindUnknown, storage.ReasonConnectionFailed},
	}
	for _, tt := range tests {
		if got := ReasonFor(tt.kind); got != tt.want {
			t.Errorf("ReasonFor(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

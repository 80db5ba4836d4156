package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"default timeout", 0, 2 * time.Second},
		{"custom timeout", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
			if len(checker.ListChecks()) != 0 {
				t.Error("expected no checks")
			}
		})
	}
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: "ok",
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"storage":  func(ctx context.Context) error { return nil },
				"listener": func(ctx context.Context) error { return nil },
			},
			wantStatus: "ok",
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"storage":  func(ctx context.Context) error { return errors.New("database is locked") },
				"listener": func(ctx context.Context) error { return nil },
			},
			wantStatus: "degraded",
		},
		{
			name: "timeout",
			checks: map[string]CheckFunc{
				"slow": func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			},
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(20 * time.Millisecond)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}

			status := checker.Check(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (%+v)", status.Status, tt.wantStatus, status.Checks)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("expected %d results, got %d", len(tt.checks), len(status.Checks))
			}
		})
	}
}

func TestChecker_Handler(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("storage", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_relay/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v", status.Checks["storage"])
	}

	checker.RegisterCheck("listener", func(ctx context.Context) error { return errors.New("stopped") })
	rec = httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_relay/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_relay/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

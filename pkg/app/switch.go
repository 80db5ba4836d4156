package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"apirelay-hq/relay/pkg/failover"
	"apirelay-hq/relay/pkg/server"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/storage"
)

// SwitchRequest is the body of POST /_relay/switch.
type SwitchRequest struct {
	BackendID int64 `json:"backend_id"`
}

// SwitchResult reports a completed switch.
type SwitchResult struct {
	Event   *storage.SwitchEvent `json:"event"`
	Runtime state.Snapshot       `json:"runtime"`
}

// Activate makes backendID the active backend and records a manual switch.
// Moving to a backend in a different group first clears the active pair, so
// the recorded event has no source and never spans groups.
func (a *App) Activate(ctx context.Context, backendID int64) (*SwitchResult, error) {
	target, err := a.Store.GetBackend(ctx, backendID)
	if err != nil {
		return nil, err
	}

	prev := a.Runtime.Snapshot()
	if prev.HasActive() && prev.ActiveGroupID != target.GroupID {
		a.Logger.Info("activating backend in another group",
			"backend", target.Name,
			"from_group_id", prev.ActiveGroupID,
			"to_group_id", target.GroupID,
		)
		a.Runtime.ClearActive()
	}

	ev, err := a.Failover.SwitchTo(ctx, backendID)
	if err != nil {
		if prev.HasActive() {
			a.Runtime.CompareAndSetActive(0, prev.ActiveGroupID, prev.ActiveBackendID)
		}
		return nil, err
	}
	a.Counters.Reset(backendID)
	return &SwitchResult{Event: ev, Runtime: a.Runtime.Snapshot()}, nil
}

func (a *App) switchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SwitchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.BackendID <= 0 {
			http.Error(w, "body must be {\"backend_id\": <id>}", http.StatusBadRequest)
			return
		}

		res, err := a.Activate(r.Context(), req.BackendID)
		if err != nil {
			http.Error(w, err.Error(), switchStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
}

func switchStatus(err error) int {
	var verr *failover.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, failover.ErrAlreadyActive), errors.Is(err, failover.ErrAlreadySwitched), errors.As(err, &verr):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ErrListenerUnreachable is returned by RemoteSwitch when no relay answers
// on the configured address.
var ErrListenerUnreachable = errors.New("relay listener is not reachable")

// RemoteSwitch asks a running relay at baseURL to activate backendID.
func RemoteSwitch(ctx context.Context, client *http.Client, baseURL string, backendID int64) (*SwitchResult, error) {
	body, err := json.Marshal(SwitchRequest{BackendID: backendID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+server.SwitchPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListenerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := readLimited(resp.Body, 4096)
		return nil, fmt.Errorf("switch rejected (%d): %s", resp.StatusCode, msg)
	}
	var res SwitchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode switch result: %w", err)
	}
	return &res, nil
}

func readLimited(r io.Reader, n int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, n))
	return strings.TrimSpace(string(b)), err
}

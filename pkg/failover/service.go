// Package failover picks a replacement backend when the active one fails and
// records the switch.
//
// Rotation is round-robin over the group's available backends in sort order.
// Switches never leave the group: both ends are checked against the requested
// group before anything is written. Decisions for one group are serialized, so
// concurrent failures against the same backend produce a single switch.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/storage"
)

// Store is the persistence the service needs.
type Store interface {
	GetBackend(ctx context.Context, id int64) (*storage.Backend, error)
	GetGroup(ctx context.Context, id int64) (*storage.Group, error)
	ListAvailableBackends(ctx context.Context, groupID int64) ([]*storage.Backend, error)
	InsertSwitchEvent(ctx context.Context, ev *storage.SwitchEvent) error
}

// Failure describes a backend failure that exhausted its retries.
type Failure struct {
	BackendID int64
	GroupID   int64
	Kind      failure.Kind
	Message   string

	// LatencyMs is the latency observed on the failing attempt, if any.
	LatencyMs int64
}

// Service is the auto-switch service.
type Service struct {
	store   Store
	runtime *state.Runtime
	emitter Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a failover service. emitter may be nil.
func NewService(store Store, runtime *state.Runtime, emitter Emitter) *Service {
	return &Service{
		store:   store,
		runtime: runtime,
		emitter: emitter,
		logger:  slog.Default().With("component", "failover"),
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (s *Service) groupLock(groupID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[groupID] = l
	}
	return l
}

// FindNext returns the backend after currentID among the group's available
// backends, wrapping around. If currentID is not in the list the first backend
// is returned. Fewer than two available backends yields ErrNoSwitchPossible.
func (s *Service) FindNext(ctx context.Context, currentID, groupID int64) (*storage.Backend, error) {
	backends, err := s.store.ListAvailableBackends(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list backends for group %d: %w", groupID, err)
	}
	if len(backends) < 2 {
		return nil, ErrNoSwitchPossible
	}

	for i, b := range backends {
		if b.ID == currentID {
			return backends[(i+1)%len(backends)], nil
		}
	}
	return backends[0], nil
}

// HandleFailure rotates the group's traffic away from a failing backend.
//
// It returns ErrAutoSwitchDisabled when the group's flag is off,
// ErrNoSwitchPossible when there is nowhere to go, and ErrAlreadySwitched
// when f.BackendID is no longer the active backend, including when the proxy
// has gone idle. In all of those cases no event is written.
func (s *Service) HandleFailure(ctx context.Context, f Failure) (*storage.SwitchEvent, error) {
	group, err := s.store.GetGroup(ctx, f.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group %d: %w", f.GroupID, err)
	}
	if !group.AutoSwitchEnabled {
		return nil, ErrAutoSwitchDisabled
	}

	l := s.groupLock(f.GroupID)
	l.Lock()
	defer l.Unlock()

	if active := s.runtime.Snapshot(); active.ActiveBackendID != f.BackendID {
		s.logger.Debug("failover skipped, backend no longer active",
			"backend_id", f.BackendID,
			"active_backend_id", active.ActiveBackendID,
			"group_id", f.GroupID,
		)
		return nil, ErrAlreadySwitched
	}

	next, err := s.FindNext(ctx, f.BackendID, f.GroupID)
	if err != nil {
		return nil, err
	}

	source, err := s.store.GetBackend(ctx, f.BackendID)
	if err != nil {
		return nil, fmt.Errorf("load failing backend %d: %w", f.BackendID, err)
	}
	if err := checkGroup("source", source, f.GroupID); err != nil {
		return nil, err
	}
	if err := checkGroup("target", next, f.GroupID); err != nil {
		return nil, err
	}

	latencyBefore := f.LatencyMs
	if latencyBefore == 0 {
		latencyBefore = source.LastLatencyMs
	}

	fromID := source.ID
	ev := &storage.SwitchEvent{
		Reason:          ReasonFor(f.Kind),
		FromBackendID:   &fromID,
		ToBackendID:     next.ID,
		GroupID:         f.GroupID,
		CrossGroup:      false,
		LatencyBeforeMs: latencyBefore,
		LatencyAfterMs:  next.LastLatencyMs,
		ErrorMessage:    f.Message,
	}
	// Another group's manual switch does not take this group's lock, so the
	// runtime swap is the commit point and the event follows it.
	if !s.runtime.CompareAndSetActive(f.BackendID, f.GroupID, next.ID) {
		return nil, ErrAlreadySwitched
	}
	if err := s.store.InsertSwitchEvent(ctx, ev); err != nil {
		s.runtime.CompareAndSetActive(next.ID, f.GroupID, f.BackendID)
		return nil, fmt.Errorf("record switch event: %w", err)
	}

	s.logger.Warn("auto-switched backend",
		"from", source.Name,
		"to", next.Name,
		"group", group.Name,
		"reason", ev.Reason,
		"error_type", f.Kind,
	)
	s.emit(ev, source, next, group)

	return ev, nil
}

// SwitchTo makes targetID the active backend and records a manual switch. If
// a backend is currently active, the target must be in the same group.
func (s *Service) SwitchTo(ctx context.Context, targetID int64) (*storage.SwitchEvent, error) {
	target, err := s.store.GetBackend(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target backend %d: %w", targetID, err)
	}
	group, err := s.store.GetGroup(ctx, target.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load group %d: %w", target.GroupID, err)
	}

	l := s.groupLock(target.GroupID)
	l.Lock()
	defer l.Unlock()

	active := s.runtime.Snapshot()
	if active.ActiveBackendID == targetID {
		return nil, ErrAlreadyActive
	}

	var source *storage.Backend
	if active.HasActive() {
		source, err = s.store.GetBackend(ctx, active.ActiveBackendID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			source = nil
		case err != nil:
			return nil, fmt.Errorf("load active backend %d: %w", active.ActiveBackendID, err)
		default:
			if err := checkGroup("source", source, target.GroupID); err != nil {
				return nil, err
			}
		}
	}

	ev := &storage.SwitchEvent{
		Reason:         storage.ReasonManual,
		ToBackendID:    target.ID,
		GroupID:        target.GroupID,
		LatencyAfterMs: target.LastLatencyMs,
	}
	if source != nil {
		id := source.ID
		ev.FromBackendID = &id
		ev.LatencyBeforeMs = source.LastLatencyMs
	}
	if !s.runtime.CompareAndSetActive(active.ActiveBackendID, target.GroupID, target.ID) {
		return nil, fmt.Errorf("%w: active backend changed during manual switch", ErrAlreadySwitched)
	}
	if err := s.store.InsertSwitchEvent(ctx, ev); err != nil {
		s.runtime.CompareAndSetActive(target.ID, active.ActiveGroupID, active.ActiveBackendID)
		return nil, fmt.Errorf("record switch event: %w", err)
	}

	s.logger.Info("switched backend manually", "to", target.Name, "group", group.Name)
	s.emit(ev, source, target, group)

	return ev, nil
}

func (s *Service) emit(ev *storage.SwitchEvent, from, to *storage.Backend, group *storage.Group) {
	if s.emitter == nil {
		return
	}
	out := Event{
		Name:           EventAutoSwitchTriggered,
		Reason:         ev.Reason,
		ToBackend:      to.Name,
		GroupName:      group.Name,
		LatencyDeltaMs: ev.LatencyAfterMs - ev.LatencyBeforeMs,
		ErrorMessage:   ev.ErrorMessage,
		Switch:         ev,
	}
	if from != nil {
		out.FromBackend = from.Name
	}
	s.emitter.Emit(out)
}

func checkGroup(role string, b *storage.Backend, groupID int64) error {
	if b.GroupID != groupID {
		return &ValidationError{
			Role:           role,
			BackendID:      b.ID,
			BackendGroupID: b.GroupID,
			GroupID:        groupID,
		}
	}
	return nil
}

// ReasonFor maps a failure kind to the switch reason recorded for it.
func ReasonFor(kind failure.Kind) storage.SwitchReason {
	switch kind {
	case failure.KindTimeout:
		return storage.ReasonTimeout
	case failure.KindRateLimit, failure.KindInsufficientBalance:
		return storage.ReasonQuota
	default:
		return storage.ReasonConnectionFailed
	}
}

package failover

import (
	"log/slog"

	"apirelay-hq/relay/pkg/storage"
)

// EventAutoSwitchTriggered is the name of the event emitted after every switch.
const EventAutoSwitchTriggered = "auto-switch-triggered"

// Event is the notification delivered to the host application after a switch.
type Event struct {
	Name           string               `json:"name"`
	Reason         storage.SwitchReason `json:"reason"`
	FromBackend    string               `json:"from_backend,omitempty"`
	ToBackend      string               `json:"to_backend"`
	GroupName      string               `json:"group_name"`
	LatencyDeltaMs int64                `json:"latency_delta_ms"`
	ErrorMessage   string               `json:"error_message,omitempty"`
	Switch         *storage.SwitchEvent `json:"switch"`
}

// Emitter delivers switch events. Emit must not block; delivery is
// fire-and-forget.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev Event)

// Emit calls f(ev).
func (f EmitterFunc) Emit(ev Event) {
	f(ev)
}

// LogEmitter returns an emitter that writes each event to logger.
func LogEmitter(logger *slog.Logger) Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return EmitterFunc(func(ev Event) {
		logger.Info(ev.Name,
			"reason", ev.Reason,
			"from", ev.FromBackend,
			"to", ev.ToBackend,
			"group", ev.GroupName,
			"latency_delta_ms", ev.LatencyDeltaMs,
			"error", ev.ErrorMessage,
		)
	})
}

// Fanout delivers every event to each emitter in order.
func Fanout(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ev Event) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(ev)
			}
		}
	})
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"apirelay-hq/relay/pkg/proxy/middleware"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/telemetry/metrics"
	"apirelay-hq/relay/pkg/telemetry/trace"
)

// Reserved admin paths served on the relay listener.
const (
	HealthPath  = "/_relay/health"
	StatusPath  = "/_relay/status"
	MetricsPath = "/_relay/metrics"
	SwitchPath  = "/_relay/switch"
)

// Routes are the handlers mounted on the listener.
type Routes struct {
	// Proxy receives every request outside the admin paths.
	Proxy http.Handler

	Health  http.Handler
	Metrics *metrics.Collector

	// Switch changes the active backend. It is mounted for POST only.
	Switch http.Handler

	Runtime *state.Runtime

	// IDs issues request ids for the request id middleware.
	IDs    *trace.IDGenerator
	Logger *slog.Logger
}

// StatusReport is the body of the status endpoint.
type StatusReport struct {
	Listener Status         `json:"listener"`
	Address  string         `json:"address,omitempty"`
	Runtime  state.Snapshot `json:"runtime"`
	Stats    metrics.Stats  `json:"stats"`
}

// Handler builds the listener handler: admin routes plus the proxy, wrapped
// in recovery, request id and access logging middleware. srv may be nil, in
// which case the status endpoint reports a stopped listener.
func Handler(r Routes, srv *Server) http.Handler {
	mux := http.NewServeMux()

	if r.Health != nil {
		mux.Handle(HealthPath, r.Health)
	}
	if r.Metrics != nil {
		mux.Handle(MetricsPath, r.Metrics.Handler())
	}
	mux.HandleFunc(StatusPath, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report := StatusReport{Listener: StatusStopped}
		if srv != nil {
			report.Listener = srv.Status()
			report.Address = srv.Addr()
		}
		if r.Runtime != nil {
			report.Runtime = r.Runtime.Snapshot()
		}
		if r.Metrics != nil {
			report.Stats = r.Metrics.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	})
	if r.Switch != nil {
		mux.Handle("POST "+SwitchPath, r.Switch)
	}
	if r.Proxy != nil {
		mux.Handle("/", r.Proxy)
	}

	return middleware.Chain(mux,
		middleware.Recovery(r.Logger),
		middleware.RequestID(r.IDs),
		middleware.Logging(r.Logger),
	)
}

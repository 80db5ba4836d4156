// Package server runs the relay's local HTTP listener.
//
// The listener is plain HTTP/1.1 on a loopback address. Start binds the
// configured port, moving on to the next ports when it is taken, and returns
// once the socket is bound; serving continues in the background. Stop
// cancels every in-flight request and closes the socket at once, so the port
// is free again as soon as Stop returns. There is no grace period.
//
// # State Machine
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	Starting -> Error     (no port in range could be bound)
//	Error -> Starting     (a later Start)
//
// # Routes
//
// Three admin paths are reserved on the listener:
//
//   - GET /_relay/health   health checks (200, or 503 when degraded)
//   - GET /_relay/status   listener state, active backend and request stats
//   - GET /_relay/metrics  Prometheus exposition
//   - POST /_relay/switch  change the active backend
//
// Every other path is handed to the proxy router. The middleware chain is
// recovery, then request id, then access logging.
//
// # Basic Usage
//
//	srv := server.New(cfg.Proxy, server.Routes{
//		Proxy:   router,
//		Health:  checker.Handler(),
//		Metrics: collector,
//		Runtime: runtime,
//	}, logger)
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//	defer srv.Stop(context.Background())
package server

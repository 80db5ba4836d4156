package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/state"
)

// stopPollInterval is how often Stop checks whether serving has ended.
const stopPollInterval = 10 * time.Millisecond

// Status is the listener state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Common server errors that can be checked with errors.Is().
var (
	// ErrAlreadyRunning is returned by Start when the listener is not stopped.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrNotRunning is returned by Stop when the listener is not running.
	ErrNotRunning = errors.New("server is not running")

	// ErrRunning is returned by UpdateConfig while the listener is active.
	ErrRunning = errors.New("listener settings can only change while stopped")
)

// BindError is returned by Start when no port in the attempt range binds.
type BindError struct {
	Host      string
	FirstPort int
	LastPort  int
	Err       error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s on ports %d-%d: %v", e.Host, e.FirstPort, e.LastPort, e.Err)
}

// Unwrap returns the last bind error.
func (e *BindError) Unwrap() error {
	return e.Err
}

// Server is the local relay listener. Start returns as soon as the socket is
// bound; serving happens in the background until Stop.
type Server struct {
	handler http.Handler
	runtime *state.Runtime
	logger  *slog.Logger

	mu         sync.RWMutex
	cfg        config.ProxyConfig
	status     Status
	lastErr    error
	addr       string
	httpServer *http.Server
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a stopped server for routes. The final bound host and port
// are written to routes.Runtime on each start.
func New(cfg config.ProxyConfig, routes Routes, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if routes.Runtime == nil {
		routes.Runtime = state.NewRuntime(cfg.Host, cfg.Port)
	}
	if routes.Logger == nil {
		routes.Logger = logger
	}

	s := &Server{
		runtime: routes.Runtime,
		logger:  logger.With("component", "server"),
		cfg:     cfg,
		status:  StatusStopped,
	}
	s.handler = Handler(routes, s)
	return s
}

// Handler returns the listener's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and begins serving in the background. When the
// configured port is taken the following ports are tried, up to
// PortAttempts in total and never past 65535. Bind failures are returned
// and leave the server in StatusError.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusStopped, StatusError:
	default:
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.lastErr = nil
	cfg := s.cfg
	s.mu.Unlock()

	ln, port, err := listen(ctx, cfg.Host, cfg.Port, cfg.PortAttempts)
	if err != nil {
		s.mu.Lock()
		s.status = StatusError
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("failed to start listener", "error", err)
		return err
	}

	if port != cfg.Port {
		s.logger.Warn("configured port unavailable, using next free port",
			"configured_port", cfg.Port,
			"port", port,
		)
	}
	s.runtime.SetHost(cfg.Host)
	s.runtime.SetPort(port)

	// Handlers derive their contexts from base; Stop cancels it so every
	// in-flight request sees the shutdown.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))

	hs := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
		// A non-nil empty map disables HTTP/2.
		TLSNextProto: map[string]func(*http.Server, *tls.Conn, http.Handler){},
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.httpServer = hs
	s.cancel = cancel
	s.done = done
	s.addr = ln.Addr().String()
	s.status = StatusRunning
	s.mu.Unlock()

	s.logger.Info("relay listening", "address", ln.Addr().String())

	go func() {
		defer close(done)
		err := hs.Serve(ln)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.lastErr = err
			s.logger.Error("listener stopped unexpectedly", "error", err)
		}
		if s.httpServer == hs {
			s.status = StatusStopped
		}
	}()

	return nil
}

// Stop cancels every in-flight request, closes the listener and all
// connections at once, and waits up to the configured stop timeout for
// serving to end. If it does not end in time the status is forced to
// StatusStopped.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.status = StatusStopping
	hs, cancel := s.httpServer, s.cancel
	timeout := s.cfg.StopTimeout
	s.mu.Unlock()

	s.logger.Info("stopping listener")

	cancel()
	closeErr := hs.Close()

	if timeout <= 0 {
		timeout = config.DefaultStopTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for s.Status() != StatusStopped {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.forceStopped(hs)
			return ctx.Err()
		case <-deadline.C:
			s.logger.Warn("listener did not stop in time, forcing stopped state", "timeout", timeout)
			s.forceStopped(hs)
			return nil
		}
	}

	s.logger.Info("listener stopped")
	if closeErr != nil {
		return fmt.Errorf("failed to close listener: %w", closeErr)
	}
	return nil
}

func (s *Server) forceStopped(hs *http.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == hs {
		s.status = StatusStopped
	}
}

// Status returns the listener state.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the error that put the server in its current state, if any.
func (s *Server) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Addr returns the address of the last bound listener.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Done is closed when the current serving goroutine exits. It returns nil
// if the server was never started.
func (s *Server) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// UpdateConfig changes the host and port used by the next Start.
func (s *Server) UpdateConfig(host string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	if host == "" {
		return errors.New("host is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusStopped, StatusError:
	default:
		return ErrRunning
	}
	s.cfg.Host = host
	s.cfg.Port = port
	s.runtime.SetHost(host)
	s.runtime.SetPort(port)
	return nil
}

// listen binds the first free port starting at port. The bound port is read
// back from the listener so port 0 works too.
func listen(ctx context.Context, host string, port, attempts int) (net.Listener, int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		lc      net.ListenConfig
		lastErr error
		last    = port
	)
	for i := 0; i < attempts; i++ {
		p := port + i
		if p > 65535 {
			break
		}
		last = p

		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("port range exceeds 65535")
	}
	return nil, 0, &BindError{Host: host, FirstPort: port, LastPort: last, Err: lastErr}
}

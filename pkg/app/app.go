// Package app builds the relay's services from a configuration and owns
// their lifetime. Nothing in the relay is a package-level singleton; every
// component is reached through an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"apirelay-hq/relay/pkg/balance"
	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/failover"
	"apirelay-hq/relay/pkg/mapping"
	"apirelay-hq/relay/pkg/proxy"
	"apirelay-hq/relay/pkg/retention"
	"apirelay-hq/relay/pkg/retry"
	"apirelay-hq/relay/pkg/server"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/storage"
	"apirelay-hq/relay/pkg/telemetry/health"
	"apirelay-hq/relay/pkg/telemetry/logging"
	"apirelay-hq/relay/pkg/telemetry/metrics"
	"apirelay-hq/relay/pkg/telemetry/trace"
)

// healthCheckTimeout bounds each health check.
const healthCheckTimeout = 2 * time.Second

// App is the application context. Build one with New and release it with
// Close.
type App struct {
	Logger    *logging.Logger
	Store     *storage.SQLiteStore
	Runtime   *state.Runtime
	Counters  *retry.Counters
	Policies  *retry.PolicySet
	Metrics   *metrics.Collector
	IDs       *trace.IDGenerator
	Mappings  *mapping.Lookup
	Failover  *failover.Service
	Router    *proxy.Router
	Health    *health.Checker
	Server    *server.Server
	Retention *retention.Scheduler
	Balance   *balance.Querier

	mu      sync.Mutex
	cfg     *config.Config
	watcher *config.Watcher
	closed  bool
}

// New opens the store and wires every service. The listener is created
// stopped; call Start or Run to serve.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		var err error
		logger, err = logging.New(logging.FromConfig(cfg.Telemetry.Logging))
		if err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(storageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policies, err := retry.NewPolicySet(cfg.Retry.Policy, cfg.Retry.Groups)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	a := &App{
		Logger:   logger,
		Store:    store,
		Runtime:  state.NewRuntime(cfg.Proxy.Host, cfg.Proxy.Port),
		Counters: retry.NewCounters(),
		Policies: policies,
		IDs:      trace.NewIDGenerator(),
		cfg:      cfg,
	}

	registry := prometheus.NewRegistry()
	if cfg.Telemetry.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.Metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
	a.Mappings = mapping.New(store)
	a.Failover = failover.NewService(store, a.Runtime, failover.LogEmitter(logger.With("component", "events")))

	client := proxy.NewClient(cfg.Proxy)
	a.Router, err = proxy.NewRouter(proxy.Options{
		Store:        store,
		Runtime:      a.Runtime,
		Counters:     a.Counters,
		Policies:     a.Policies,
		Failover:     a.Failover,
		Mapper:       a.Mappings.Map,
		Metrics:      a.Metrics,
		Client:       client,
		IDs:          a.IDs,
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
		Logger:       logger.Logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build router: %w", err)
	}

	a.Health = health.New(healthCheckTimeout)
	a.Health.RegisterCheck("storage", store.Ping)

	a.Server = server.New(cfg.Proxy, server.Routes{
		Proxy:   a.Router,
		Health:  a.Health.Handler(),
		Metrics: a.Metrics,
		Switch:  a.switchHandler(),
		Runtime: a.Runtime,
		IDs:     a.IDs,
		Logger:  logger.Logger,
	}, logger.Logger)
	a.Health.RegisterCheck("listener", func(context.Context) error {
		if st := a.Server.Status(); st != server.StatusRunning {
			return fmt.Errorf("listener is %s", st)
		}
		return nil
	})

	schedule := ""
	if cfg.Retention.Enabled {
		schedule = cfg.Retention.Schedule
	}
	a.Retention = retention.NewScheduler(retention.NewPruner(store, cfg.Retention), schedule)
	a.Balance = balance.NewQuerier(client, cfg.Balance.Timeout)

	return a, nil
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	sc := storage.DefaultConfig()
	if cfg.Path != "" {
		sc.Path = cfg.Path
	}
	if cfg.Driver != "" {
		sc.Driver = cfg.Driver
	}
	if cfg.BusyTimeout > 0 {
		sc.BusyTimeout = cfg.BusyTimeout
	}
	sc.WALMode = !strings.EqualFold(cfg.JournalMode, "delete")
	return sc
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// RestoreActive reactivates the target of the most recent switch event, so
// a restarted relay resumes on the backend it last used. It does nothing
// when there is no history or the backend has since been deleted.
func (a *App) RestoreActive(ctx context.Context) error {
	events, err := a.Store.ListSwitchEvents(ctx, 0, 1)
	if err != nil {
		return fmt.Errorf("load switch history: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	last := events[0]
	b, err := a.Store.GetBackend(ctx, last.ToBackendID)
	if errors.Is(err, storage.ErrNotFound) {
		a.Logger.Warn("last active backend no longer exists", "backend_id", last.ToBackendID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load backend %d: %w", last.ToBackendID, err)
	}

	a.Runtime.SetActive(b.GroupID, b.ID)
	a.Logger.Info("restored active backend", "backend", b.Name, "group_id", b.GroupID)
	return nil
}

// Start restores the active backend, binds the listener and starts the
// retention schedule.
func (a *App) Start(ctx context.Context) error {
	if err := a.RestoreActive(ctx); err != nil {
		a.Logger.Warn("could not restore active backend", "error", err)
	}
	if err := a.Server.Start(ctx); err != nil {
		return err
	}
	if err := a.Retention.Start(ctx); err != nil {
		_ = a.Server.Stop(context.Background())
		return fmt.Errorf("start retention: %w", err)
	}
	return nil
}

// Run starts the app, watches configPath for changes when it is not empty,
// and blocks until ctx is cancelled. The app is closed on return.
func (a *App) Run(ctx context.Context, configPath string) error {
	if err := a.Start(ctx); err != nil {
		a.Close()
		return err
	}

	if configPath != "" {
		if err := a.WatchConfig(ctx, configPath); err != nil {
			a.Logger.Warn("configuration hot reload disabled", "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case <-a.Server.Done():
		if err := a.Server.Err(); err != nil {
			a.Close()
			return err
		}
	}
	return a.Close()
}

// WatchConfig reloads configPath on change and applies the settings that
// can change at runtime.
func (a *App) WatchConfig(ctx context.Context, configPath string) error {
	w, err := config.NewWatcher(configPath, a.Logger.Logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.watcher != nil {
		a.mu.Unlock()
		_ = w.Stop()
		return errors.New("configuration watcher already running")
	}
	a.watcher = w
	a.mu.Unlock()

	go func() {
		if err := w.Watch(ctx, a.ApplyConfig); err != nil {
			a.Logger.Error("configuration watcher stopped", "error", err)
		}
	}()
	return nil
}

// ApplyConfig applies a reloaded configuration. Retry policies and the log
// level change immediately; listener and storage settings take effect on
// the next start.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	if err := a.Policies.Replace(next.Retry.Policy, next.Retry.Groups); err != nil {
		a.Logger.Error("rejected retry policy from reloaded configuration", "error", err)
		return
	}
	if err := a.Logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
		a.Logger.Warn("invalid log level in reloaded configuration", "error", err)
	}

	if prev.Proxy.Host != next.Proxy.Host || prev.Proxy.Port != next.Proxy.Port {
		a.Logger.Warn("listener address changed; restart the relay to apply",
			"address", fmt.Sprintf("%s:%d", next.Proxy.Host, next.Proxy.Port),
		)
	}
	if prev.Storage != next.Storage {
		a.Logger.Warn("storage settings changed; restart the relay to apply")
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	a.Logger.Info("configuration applied",
		slog.Int("max_attempts", next.Retry.MaxAttempts),
		slog.String("log_level", next.Telemetry.Logging.Level),
	)
}

// Close stops every service in reverse start order and closes the store.
// It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	w := a.watcher
	a.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Retention.Stop()
	if err := a.Server.Stop(context.Background()); err != nil && !errors.Is(err, server.ErrNotRunning) {
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

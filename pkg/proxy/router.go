package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"apirelay-hq/relay/pkg/config"
	"apirelay-hq/relay/pkg/failover"
	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/protocol"
	"apirelay-hq/relay/pkg/retry"
	"apirelay-hq/relay/pkg/state"
	"apirelay-hq/relay/pkg/storage"
	"apirelay-hq/relay/pkg/telemetry/logging"
	"apirelay-hq/relay/pkg/telemetry/metrics"
	"apirelay-hq/relay/pkg/telemetry/trace"
)

// statusClientClosed is logged for requests whose client went away before a
// response was written. It is never sent.
const statusClientClosed = 499

// requestLogTimeout bounds writing the request log row after the response.
const requestLogTimeout = 5 * time.Second

// Store is the persistence the router needs.
type Store interface {
	GetBackend(ctx context.Context, id int64) (*storage.Backend, error)
	UpdateBackendLatency(ctx context.Context, id int64, latencyMs int64) error
	InsertRequestLog(ctx context.Context, rl *storage.RequestLog) error
}

// Failover switches away from a backend whose retries are exhausted.
type Failover interface {
	HandleFailure(ctx context.Context, f failover.Failure) (*storage.SwitchEvent, error)
}

// Options configures a Router. Store, Runtime, Counters, Policies and
// Failover are required.
type Options struct {
	Store    Store
	Runtime  *state.Runtime
	Counters *retry.Counters
	Policies *retry.PolicySet
	Failover Failover

	// Mapper renames models during conversion. Nil keeps client model names.
	Mapper protocol.Mapper

	// Metrics receives per-request records. Nil creates a private collector
	// with Prometheus export disabled.
	Metrics *metrics.Collector

	// Client sends backend requests. Nil uses NewClient with default timeouts.
	Client *http.Client

	// IDs issues request ids for requests that did not pass through the
	// request id middleware.
	IDs *trace.IDGenerator

	// MaxBodyBytes limits inbound request bodies.
	// Default: config.DefaultMaxBodyBytes
	MaxBodyBytes int64

	Logger *slog.Logger
}

// Router forwards every request to the active backend. It converts between
// wire formats when the client and backend disagree, retries failures against
// the same backend, and hands exhausted backends to the failover service.
type Router struct {
	store    Store
	runtime  *state.Runtime
	counters *retry.Counters
	policies *retry.PolicySet
	failover Failover
	mapper   protocol.Mapper
	metrics  *metrics.Collector
	client   *http.Client
	ids      *trace.IDGenerator
	maxBody  int64
	logger   *slog.Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter creates a router.
func NewRouter(opts Options) (*Router, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("proxy: store is required")
	case opts.Runtime == nil:
		return nil, errors.New("proxy: runtime state is required")
	case opts.Counters == nil:
		return nil, errors.New("proxy: failure counters are required")
	case opts.Policies == nil:
		return nil, errors.New("proxy: retry policies are required")
	case opts.Failover == nil:
		return nil, errors.New("proxy: failover service is required")
	}

	rt := &Router{
		store:    opts.Store,
		runtime:  opts.Runtime,
		counters: opts.Counters,
		policies: opts.Policies,
		failover: opts.Failover,
		mapper:   opts.Mapper,
		metrics:  opts.Metrics,
		client:   opts.Client,
		ids:      opts.IDs,
		maxBody:  opts.MaxBodyBytes,
		logger:   opts.Logger,
		sleep:    sleepContext,
	}
	if rt.metrics == nil {
		rt.metrics = metrics.NewCollector(&config.MetricsConfig{}, nil)
	}
	if rt.client == nil {
		rt.client = NewClient(config.ProxyConfig{
			DialTimeout:           config.DefaultDialTimeout,
			ResponseHeaderTimeout: config.DefaultResponseHeaderTimeout,
		})
	}
	if rt.ids == nil {
		rt.ids = trace.NewIDGenerator()
	}
	if rt.maxBody <= 0 {
		rt.maxBody = config.DefaultMaxBodyBytes
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.logger = rt.logger.With("component", "router")
	return rt, nil
}

// exchange carries the state of one proxied request.
type exchange struct {
	ctx   context.Context
	r     *http.Request
	tr    *trace.RequestTrace
	start time.Time

	backend    *storage.Backend
	client     protocol.Format
	upstream   protocol.Format
	conversion string
	model      string
	mapped     string
	stream     bool

	attempts int
	status   int
	bytesOut int64
	usage    protocol.Usage
	errKind  string
	errMsg   string
}

func (ex *exchange) converted() bool {
	return ex.conversion != ""
}

func (ex *exchange) fail(status int, kind, msg string) {
	ex.status = status
	ex.errKind = kind
	ex.errMsg = msg
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := logging.GetRequestID(ctx)
	if id == "" {
		id = rt.ids.Next()
		ctx = logging.WithRequestID(ctx, id)
	}

	ex := &exchange{
		ctx:   ctx,
		r:     r,
		tr:    trace.New(id, rt.logger),
		start: time.Now(),
	}
	defer rt.finish(ex)

	body, err := readBody(r, rt.maxBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			ex.fail(http.StatusRequestEntityTooLarge, "request_too_large", err.Error())
			writePlain(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes\n", rt.maxBody))
			return
		}
		ex.fail(http.StatusBadRequest, "bad_request", err.Error())
		writePlain(w, http.StatusBadRequest, err.Error()+"\n")
		return
	}
	ex.tr.Received(r.Method, r.URL.Path, len(body))

	snap := rt.runtime.Snapshot()
	if !snap.HasActive() {
		ex.fail(http.StatusServiceUnavailable, "no_active_backend", "no active backend")
		writePlain(w, http.StatusServiceUnavailable, noBackendMessage)
		return
	}

	backend, err := rt.store.GetBackend(ctx, snap.ActiveBackendID)
	if err != nil {
		rt.logger.ErrorContext(ctx, "failed to load active backend", "backend_id", snap.ActiveBackendID, "error", err)
		ex.fail(http.StatusServiceUnavailable, "no_active_backend", err.Error())
		writePlain(w, http.StatusServiceUnavailable, fmt.Sprintf("active backend %d could not be loaded\n", snap.ActiveBackendID))
		return
	}
	ex.backend = backend
	ex.ctx = logging.WithBackend(ctx, backend.Name)

	ex.client = protocol.Detect(r.URL.Path, r.Header, body)
	ex.upstream = protocol.Format(backend.Provider)
	ex.tr.FormatDetected(string(ex.client), string(ex.upstream))

	path, outBody, err := rt.prepare(ex, body)
	if err != nil {
		ex.fail(http.StatusBadRequest, "conversion_failed", err.Error())
		writePlain(w, http.StatusBadRequest, fmt.Sprintf("request could not be converted from %s to %s: %v\n", ex.client, ex.upstream, err))
		return
	}

	target, err := upstreamURL(backend.BaseURL, path)
	if err != nil {
		ex.fail(http.StatusInternalServerError, "invalid_backend", err.Error())
		writePlain(w, http.StatusInternalServerError, err.Error()+"\n")
		return
	}

	rt.forward(w, ex, target, outBody)
}

// prepare converts the request body when the client and backend formats
// differ and returns the upstream path and body.
func (rt *Router) prepare(ex *exchange, body []byte) (string, []byte, error) {
	r := ex.r
	if ex.client == ex.upstream || r.Method != http.MethodPost || len(body) == 0 {
		ex.model, ex.stream = protocol.Peek(body, ex.client, r.URL.Path)
		ex.mapped = ex.model
		ex.tr.SetModel(ex.model)
		return r.URL.RequestURI(), body, nil
	}

	direction := protocol.Direction(ex.client, ex.upstream)
	ex.tr.ConversionStart(direction)

	conv, err := protocol.ConvertRequest(ex.ctx, body, ex.client, ex.upstream, protocol.RequestOptions{
		Mapper: rt.mapper,
		Path:   r.URL.Path,
	})
	if err != nil {
		return "", nil, err
	}

	ex.conversion = direction
	ex.model, ex.mapped, ex.stream = conv.Model, conv.MappedModel, conv.Stream
	ex.tr.ConversionEnd(conv.Model, conv.MappedModel, len(conv.Body))
	return protocol.UpstreamPath(ex.upstream, conv.MappedModel, conv.Stream), conv.Body, nil
}

// forward runs the attempt loop against the active backend.
func (rt *Router) forward(w http.ResponseWriter, ex *exchange, target string, body []byte) {
	ctx := ex.ctx
	backend := ex.backend
	policy := rt.policies.For(backend.GroupID)

	for {
		ex.attempts++
		ex.tr.UpstreamSent(backend.ID, backend.Name, ex.attempts)

		started := time.Now()
		resp, uerr := rt.send(ex, target, body)
		latency := time.Since(started)

		if uerr == nil {
			rt.respond(w, ex, resp, latency)
			return
		}

		if ctx.Err() != nil {
			ex.fail(statusClientClosed, "canceled", ctx.Err().Error())
			return
		}

		cls := uerr.Classify()
		rt.metrics.RecordBackendError(backend.Name, string(cls.Kind))
		failures := rt.counters.Increment(backend.ID)

		if policy.ShouldRetry(failures, cls.Recoverability) {
			delay := policy.Delay(int(failures), cls.Recoverability)
			rt.logger.InfoContext(ctx, "retrying backend",
				"backend", backend.Name,
				"attempt", ex.attempts,
				"failures", failures,
				"error_type", cls.Kind,
				"delay", delay,
			)
			rt.metrics.RecordRetry(backend.Name)
			if err := rt.sleep(ctx, delay); err != nil {
				ex.fail(statusClientClosed, "canceled", err.Error())
				return
			}
			continue
		}

		rt.giveUp(w, ex, uerr, cls.Kind, latency)
		return
	}
}

// giveUp reports a failure whose retries are exhausted, or that cannot be
// retried, after asking the failover service to move traffic elsewhere.
func (rt *Router) giveUp(w http.ResponseWriter, ex *exchange, uerr *UpstreamError, kind failure.Kind, latency time.Duration) {
	ctx := ex.ctx
	backend := ex.backend

	rt.logger.WarnContext(ctx, "backend request failed",
		"backend", backend.Name,
		"attempts", ex.attempts,
		"error_type", kind,
		"error", uerr.Error(),
	)

	noAlternative := false
	ev, err := rt.failover.HandleFailure(ctx, failover.Failure{
		BackendID: backend.ID,
		GroupID:   backend.GroupID,
		Kind:      kind,
		Message:   uerr.Error(),
		LatencyMs: latency.Milliseconds(),
	})
	switch {
	case err == nil:
		rt.metrics.RecordSwitch(string(ev.Reason))
	case errors.Is(err, failover.ErrNoSwitchPossible):
		noAlternative = true
	case errors.Is(err, failover.ErrAutoSwitchDisabled), errors.Is(err, failover.ErrAlreadySwitched):
	default:
		rt.logger.ErrorContext(ctx, "auto-switch failed", "backend", backend.Name, "error", err)
	}

	ex.errKind = string(kind)
	ex.errMsg = uerr.Error()

	// With nowhere to go the backend's own answer is the most useful one.
	if noAlternative && uerr.HasResponse() {
		ex.status = uerr.StatusCode
		copyResponseHeader(w.Header(), uerr.Header)
		w.Header().Set(ErrorTypeHeader, kind.HeaderValue())
		w.WriteHeader(uerr.StatusCode)
		_, _ = w.Write(uerr.Body)
		return
	}

	ex.status = kind.StatusCode()
	if err := WriteGatewayError(w, &GatewayError{Backend: backend.Name, Kind: kind, Detail: uerr.Error()}); err != nil {
		rt.logger.DebugContext(ctx, "client went away", "error", err)
	}
}

// finish records the trace, metrics and request log for a completed exchange.
func (rt *Router) finish(ex *exchange) {
	duration := time.Since(ex.start)
	success := ex.status > 0 && ex.status < http.StatusBadRequest && ex.errKind == ""

	if success {
		ex.tr.Completed(ex.status, ex.bytesOut, ex.usage.InputTokens, ex.usage.OutputTokens)
	} else {
		ex.tr.Error(ex.status, ex.errKind, ex.errMsg)
	}
	ex.tr.Finish()

	rec := metrics.Request{
		Provider:     string(ex.upstream),
		Conversion:   ex.conversion,
		Success:      success,
		Stream:       ex.stream,
		StatusCode:   ex.status,
		Duration:     duration,
		InputTokens:  ex.usage.InputTokens,
		OutputTokens: ex.usage.OutputTokens,
	}
	if ex.backend != nil {
		rec.Backend = ex.backend.Name
	}
	rt.metrics.RecordRequest(rec)

	if ex.backend == nil {
		return
	}

	// The client may be gone; the log row is written regardless.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ex.ctx), requestLogTimeout)
	defer cancel()

	rl := &storage.RequestLog{
		ID:             ex.tr.ID(),
		BackendID:      ex.backend.ID,
		GroupID:        ex.backend.GroupID,
		Method:         ex.r.Method,
		Path:           ex.r.URL.Path,
		ClientFormat:   string(ex.client),
		UpstreamFormat: string(ex.upstream),
		Model:          ex.model,
		StatusCode:     ex.status,
		Stream:         ex.stream,
		Attempts:       ex.attempts,
		InputTokens:    ex.usage.InputTokens,
		OutputTokens:   ex.usage.OutputTokens,
		DurationMs:     duration.Milliseconds(),
		ErrorType:      ex.errKind,
		ErrorMessage:   truncate(ex.errMsg, 1024),
		CreatedAt:      ex.start.UTC(),
	}
	if ex.mapped != ex.model {
		rl.MappedModel = ex.mapped
	}
	if err := rt.store.InsertRequestLog(ctx, rl); err != nil {
		rt.logger.ErrorContext(ctx, "failed to write request log", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

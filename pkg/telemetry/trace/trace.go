package trace

import (
	"context"
	"log/slog"
	"time"
)

// Event names recorded over a request's lifetime.
const (
	EventReceived         = "received"
	EventFormatDetected   = "format_detected"
	EventConversionStart  = "conversion_start"
	EventConversionEnd    = "conversion_end"
	EventUpstreamSent     = "upstream_sent"
	EventUpstreamReceived = "upstream_received"
	EventChunk            = "chunk"
	EventCompleted        = "completed"
	EventError            = "error"
)

// ChunkSizeThreshold is the chunk size in bytes above which every stream
// chunk is recorded regardless of sampling.
const ChunkSizeThreshold = 4096

// SampleChunk reports whether the chunk at index (0-based) with size bytes is
// recorded: the first chunk, every 10th chunk, and any oversized chunk.
func SampleChunk(index, size int) bool {
	return index%10 == 0 || size > ChunkSizeThreshold
}

// Event is one recorded stage.
type Event struct {
	Name      string
	SincePrev time.Duration
	Total     time.Duration
	Attrs     []slog.Attr
}

// RequestTrace collects the stage events of one request. It belongs to the
// goroutine serving the request and is not safe for concurrent use.
type RequestTrace struct {
	id     string
	logger *slog.Logger
	now    func() time.Time

	start  time.Time
	last   time.Time
	events []Event

	clientFormat   string
	upstreamFormat string
	model          string
	mappedModel    string
	backend        string
	status         int

	chunks       int
	bytesIn      int64
	bytesOut     int64
	inputTokens  int64
	outputTokens int64
	errorKind    string
	finished     bool
}

// New starts a trace for request id. A nil logger uses slog.Default.
func New(id string, logger *slog.Logger) *RequestTrace {
	if logger == nil {
		logger = slog.Default()
	}
	t := &RequestTrace{
		id:     id,
		logger: logger.With("request_id", id),
		now:    time.Now,
	}
	t.start = t.now()
	t.last = t.start
	return t
}

// ID returns the request id.
func (t *RequestTrace) ID() string {
	return t.id
}

// Elapsed returns the time since the trace started.
func (t *RequestTrace) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// Record appends a named event with structured attributes.
func (t *RequestTrace) Record(name string, attrs ...slog.Attr) {
	now := t.now()
	ev := Event{
		Name:      name,
		SincePrev: now.Sub(t.last),
		Total:     now.Sub(t.start),
		Attrs:     attrs,
	}
	t.last = now
	t.events = append(t.events, ev)

	if t.logger.Enabled(context.Background(), slog.LevelDebug) {
		args := make([]any, 0, len(attrs)+3)
		args = append(args,
			slog.String("event", name),
			slog.Int64("since_prev_us", ev.SincePrev.Microseconds()),
			slog.Int64("total_us", ev.Total.Microseconds()),
		)
		for _, a := range attrs {
			args = append(args, a)
		}
		t.logger.Debug("trace event", args...)
	}
}

// Received records the inbound request.
func (t *RequestTrace) Received(method, path string, size int) {
	t.bytesIn = int64(size)
	t.Record(EventReceived,
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("bytes", size),
	)
}

// FormatDetected records the client and upstream wire formats.
func (t *RequestTrace) FormatDetected(client, upstream string) {
	t.clientFormat, t.upstreamFormat = client, upstream
	t.Record(EventFormatDetected,
		slog.String("client_format", client),
		slog.String("upstream_format", upstream),
	)
}

// ConversionStart marks the start of request conversion.
func (t *RequestTrace) ConversionStart(direction string) {
	t.Record(EventConversionStart, slog.String("direction", direction))
}

// ConversionEnd records the result of request conversion.
func (t *RequestTrace) ConversionEnd(model, mappedModel string, size int) {
	t.model, t.mappedModel = model, mappedModel
	t.Record(EventConversionEnd,
		slog.String("model", model),
		slog.String("mapped_model", mappedModel),
		slog.Int("bytes", size),
	)
}

// SetModel records the model for requests that need no conversion.
func (t *RequestTrace) SetModel(model string) {
	t.model, t.mappedModel = model, model
}

// UpstreamSent records an outbound attempt.
func (t *RequestTrace) UpstreamSent(backendID int64, backend string, attempt int) {
	t.backend = backend
	t.Record(EventUpstreamSent,
		slog.Int64("backend_id", backendID),
		slog.String("backend", backend),
		slog.Int("attempt", attempt),
	)
}

// UpstreamReceived records the upstream response status.
func (t *RequestTrace) UpstreamReceived(status int) {
	t.status = status
	t.Record(EventUpstreamReceived, slog.Int("status", status))
}

// Chunk counts one streamed chunk and records it when sampled.
func (t *RequestTrace) Chunk(size int) {
	index := t.chunks
	t.chunks++
	t.bytesOut += int64(size)
	if SampleChunk(index, size) {
		t.Record(EventChunk, slog.Int("index", index), slog.Int("bytes", size))
	}
}

// Completed records a successful response.
func (t *RequestTrace) Completed(status int, bodyBytes int64, inputTokens, outputTokens int64) {
	t.status = status
	if bodyBytes > 0 {
		t.bytesOut = bodyBytes
	}
	t.inputTokens, t.outputTokens = inputTokens, outputTokens
	t.Record(EventCompleted,
		slog.Int("status", status),
		slog.Int64("input_tokens", inputTokens),
		slog.Int64("output_tokens", outputTokens),
	)
}

// Error records a failure.
func (t *RequestTrace) Error(status int, kind, message string) {
	t.status = status
	t.errorKind = kind
	t.Record(EventError,
		slog.Int("status", status),
		slog.String("error_type", kind),
		slog.String("error", message),
	)
}

// Events returns a copy of the recorded events.
func (t *RequestTrace) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Chunks returns the number of streamed chunks seen.
func (t *RequestTrace) Chunks() int {
	return t.chunks
}

// Finish logs the request summary. Later calls do nothing.
func (t *RequestTrace) Finish() {
	if t.finished {
		return
	}
	t.finished = true

	level := slog.LevelInfo
	if t.errorKind != "" {
		level = slog.LevelWarn
	}
	t.logger.Log(context.Background(), level, "request trace",
		"total_ms", t.Elapsed().Milliseconds(),
		"events", len(t.events),
		"client_format", t.clientFormat,
		"upstream_format", t.upstreamFormat,
		"model", t.model,
		"mapped_model", t.mappedModel,
		"backend", t.backend,
		"status", t.status,
		"chunks", t.chunks,
		"bytes_in", t.bytesIn,
		"bytes_out", t.bytesOut,
		"input_tokens", t.inputTokens,
		"output_tokens", t.outputTokens,
		"error_type", t.errorKind,
	)
}

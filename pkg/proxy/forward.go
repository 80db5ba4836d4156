package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/protocol"
)

// upstreamResponse is a backend answer that is not a failure. Event streams
// keep their body open in stream; everything else is read into body.
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
	stream io.ReadCloser
}

// send performs one attempt. Transport errors, failure statuses and bodies
// that cannot be read come back as an UpstreamError.
func (rt *Router) send(ex *exchange, target string, body []byte) (*upstreamResponse, *UpstreamError) {
	req, err := http.NewRequestWithContext(ex.ctx, ex.r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	req.Header = outboundHeader(ex.r.Header, ex.client, ex.upstream, ex.backend.APIKey)

	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	ex.tr.UpstreamReceived(resp.StatusCode)

	if shouldClassify(resp.StatusCode) {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}
	}

	out := &upstreamResponse{status: resp.StatusCode, header: resp.Header}
	if resp.StatusCode < http.StatusMultipleChoices && isEventStream(resp.Header) {
		out.stream = resp.Body
		return out, nil
	}

	defer resp.Body.Close()
	if out.body, err = io.ReadAll(resp.Body); err != nil {
		return nil, &UpstreamError{Err: err}
	}
	return out, nil
}

// respond writes a backend answer to the client. Client errors are passed
// through untouched and leave the failure counter alone.
func (rt *Router) respond(w http.ResponseWriter, ex *exchange, resp *upstreamResponse, latency time.Duration) {
	if resp.stream != nil {
		defer resp.stream.Close()
	}

	if resp.status >= http.StatusBadRequest {
		ex.status = resp.status
		ex.errKind = "client_error"
		ex.errMsg = truncate(string(resp.body), 512)
		copyResponseHeader(w.Header(), resp.header)
		w.WriteHeader(resp.status)
		_, _ = w.Write(resp.body)
		return
	}

	rt.recordSuccess(ex, latency)

	if resp.stream != nil {
		rt.streamResponse(w, ex, resp)
		return
	}

	body := resp.body
	if ex.converted() {
		converted, usage, err := protocol.ConvertResponse(body, ex.upstream, ex.client, ex.model)
		if err != nil {
			kind := failure.KindInvalidResponse
			ex.fail(kind.StatusCode(), string(kind), err.Error())
			_ = WriteGatewayError(w, &GatewayError{Backend: ex.backend.Name, Kind: kind, Detail: err.Error()})
			return
		}
		body, ex.usage = converted, usage
	} else {
		ex.usage = protocol.ExtractUsage(body, ex.upstream)
	}

	copyResponseHeader(w.Header(), resp.header)
	if ex.converted() {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.status)
	n, err := w.Write(body)
	ex.status = resp.status
	ex.bytesOut = int64(n)
	if err != nil {
		rt.logger.DebugContext(ex.ctx, "client went away", "error", err)
	}
}

// recordSuccess clears the backend's failure counter and stores the latency
// of the attempt that succeeded.
func (rt *Router) recordSuccess(ex *exchange, latency time.Duration) {
	backend := ex.backend
	rt.counters.Reset(backend.ID)
	rt.metrics.RecordBackendLatency(backend.Name, latency)

	if err := rt.store.UpdateBackendLatency(ex.ctx, backend.ID, latency.Milliseconds()); err != nil {
		rt.logger.WarnContext(ex.ctx, "failed to update backend latency", "backend", backend.Name, "error", err)
	}
}

// streamResponse relays an event stream frame by frame, converting each frame
// when the formats differ. Nothing is buffered beyond the current frame.
func (rt *Router) streamResponse(w http.ResponseWriter, ex *exchange, resp *upstreamResponse) {
	to := ex.upstream
	model := ""
	if ex.converted() {
		to, model = ex.client, ex.model
	}

	sc, err := protocol.NewStreamConverter(ex.upstream, to, model)
	if err != nil {
		kind := failure.KindInvalidResponse
		ex.fail(kind.StatusCode(), string(kind), err.Error())
		_ = WriteGatewayError(w, &GatewayError{Backend: ex.backend.Name, Kind: kind, Detail: err.Error()})
		return
	}

	ex.stream = true
	ex.status = resp.status
	if !ex.converted() {
		copyResponseHeader(w.Header(), resp.header)
	}
	SetSSEHeaders(w)
	w.WriteHeader(resp.status)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	reader := protocol.NewSSEReader(resp.stream)
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Headers are already sent; the client sees a truncated stream.
			rt.logger.WarnContext(ex.ctx, "upstream stream interrupted", "backend", ex.backend.Name, "error", err)
			ex.errKind = string(failure.Classify(transportText(err)).Kind)
			ex.errMsg = err.Error()
			break
		}
		if frame.Event != "" || frame.Data != "" {
			ex.tr.Chunk(len(frame.Data))
		}

		frames, err := sc.Convert(frame)
		if err != nil {
			rt.logger.DebugContext(ex.ctx, "skipping unparsable stream frame", "error", err)
		}
		n, err := WriteSSEFrames(w, frames)
		ex.bytesOut += int64(n)
		if err != nil {
			ex.fail(statusClientClosed, "canceled", err.Error())
			ex.usage = sc.Usage()
			return
		}
	}

	n, err := WriteSSEFrames(w, sc.Finish())
	ex.bytesOut += int64(n)
	if err != nil {
		ex.fail(statusClientClosed, "canceled", err.Error())
	}
	ex.usage = sc.Usage()
}

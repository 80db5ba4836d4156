package protocol

import (
	"context"
	"encoding/json"
	"fmt"
)

// Mapper translates a model name for a conversion direction. It returns the
// input unchanged when no mapping applies.
type Mapper func(ctx context.Context, model, direction string) string

// RequestOptions carries what a conversion needs beyond the body.
type RequestOptions struct {
	// Mapper renames the model; nil keeps the client's model name.
	Mapper Mapper

	// Path is the inbound request path. Gemini requests carry the model and
	// streaming mode there instead of in the body.
	Path string
}

// ConvertedRequest is the result of ConvertRequest.
type ConvertedRequest struct {
	Body []byte

	// Model is the model the client asked for; MappedModel is the one sent
	// upstream. They are equal when no mapping applied.
	Model       string
	MappedModel string
	Stream      bool
}

// ParseRequest decodes a request body of format f into the canonical model.
func ParseRequest(body []byte, f Format, path string) (*Request, error) {
	var (
		req *Request
		err error
	)
	switch f {
	case FormatAnthropic:
		req, err = decodeAnthropicRequest(body)
	case FormatOpenAI:
		req, err = decodeOpenAIRequest(body)
	case FormatGemini:
		req, err = decodeGeminiRequest(body)
		if err == nil {
			req.Model, req.Stream, _ = GeminiPathModel(path)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
	return req, err
}

// EncodeRequest renders a canonical request in format f.
func EncodeRequest(req *Request, f Format) ([]byte, error) {
	switch f {
	case FormatAnthropic:
		return encodeAnthropicRequest(req)
	case FormatOpenAI:
		return encodeOpenAIRequest(req)
	case FormatGemini:
		return encodeGeminiRequest(req)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// ConvertRequest rewrites a client request from format from into format to,
// mapping the model name on the way. When the formats match the body is
// returned untouched.
func ConvertRequest(ctx context.Context, body []byte, from, to Format, opts RequestOptions) (*ConvertedRequest, error) {
	if from == to {
		model, stream := Peek(body, from, opts.Path)
		return &ConvertedRequest{Body: body, Model: model, MappedModel: model, Stream: stream}, nil
	}

	req, err := ParseRequest(body, from, opts.Path)
	if err != nil {
		return nil, err
	}

	out := &ConvertedRequest{Model: req.Model, MappedModel: req.Model, Stream: req.Stream}
	if opts.Mapper != nil && req.Model != "" {
		out.MappedModel = opts.Mapper(ctx, req.Model, Direction(from, to))
	}
	req.Model = out.MappedModel

	out.Body, err = EncodeRequest(req, to)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", to, err)
	}
	return out, nil
}

// Peek reads the model name and streaming flag without a full parse.
func Peek(body []byte, f Format, path string) (model string, stream bool) {
	if f == FormatGemini {
		model, stream, _ = GeminiPathModel(path)
		return model, stream
	}
	var probe struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Model, probe.Stream
}

// ParseResponse decodes a non-streaming response body of format f.
func ParseResponse(body []byte, f Format) (*Response, error) {
	switch f {
	case FormatAnthropic:
		return decodeAnthropicResponse(body)
	case FormatOpenAI:
		return decodeOpenAIResponse(body)
	case FormatGemini:
		return decodeGeminiResponse(body)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// EncodeResponse renders a canonical response in format f.
func EncodeResponse(resp *Response, f Format) ([]byte, error) {
	switch f {
	case FormatAnthropic:
		return encodeAnthropicResponse(resp)
	case FormatOpenAI:
		return encodeOpenAIResponse(resp)
	case FormatGemini:
		return encodeGeminiResponse(resp)
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// ConvertResponse rewrites an upstream response body from format from into
// the client's format to and reports its token usage. model, when set,
// replaces the upstream's model name so clients see the model they requested.
func ConvertResponse(body []byte, from, to Format, model string) ([]byte, Usage, error) {
	if from == to {
		return body, ExtractUsage(body, from), nil
	}
	resp, err := ParseResponse(body, from)
	if err != nil {
		return nil, Usage{}, err
	}
	if model != "" {
		resp.Model = model
	}
	out, err := EncodeResponse(resp, to)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("encode %s response: %w", to, err)
	}
	return out, resp.Usage, nil
}

// ExtractUsage reads token usage from a non-streaming response body. Bodies
// that cannot be parsed report zero usage.
func ExtractUsage(body []byte, f Format) Usage {
	resp, err := ParseResponse(body, f)
	if err != nil {
		return Usage{}
	}
	return resp.Usage
}
